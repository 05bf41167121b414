package convo

// Role is an agent's position within a conversation.
type Role string

const (
	RoleMain     Role = "main"
	RoleSubagent Role = "subagent"
)

// AssignRoles buckets a conversation's agents into main/subagent by a
// majority-entry-count vote: the agent with the most entries is main,
// every other agentKey observed in the conversation is a subagent. Ties
// are broken by first-seen order (the iteration order of entryCounts is
// not guaranteed, so callers supply it via agentOrder).
func AssignRoles(entryCounts map[string]int, agentOrder []string) map[string]Role {
	roles := make(map[string]Role, len(agentOrder))
	if len(agentOrder) == 0 {
		return roles
	}

	mainKey := agentOrder[0]
	best := entryCounts[mainKey]
	for _, key := range agentOrder[1:] {
		if entryCounts[key] > best {
			mainKey = key
			best = entryCounts[key]
		}
	}

	for _, key := range agentOrder {
		if key == mainKey {
			roles[key] = RoleMain
		} else {
			roles[key] = RoleSubagent
		}
	}
	return roles
}
