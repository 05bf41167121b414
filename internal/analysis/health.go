package analysis

import "github.com/context-lens/sidecar/internal/normalizer"

// Rating buckets the overall health score.
type Rating string

const (
	RatingGood      Rating = "good"
	RatingNeedsWork Rating = "needs-work"
	RatingPoor      Rating = "poor"
)

// Audit names one weighted sub-score.
type Audit string

const (
	AuditUtilization Audit = "utilization"
	AuditToolResults Audit = "tool-results"
	AuditToolDefs    Audit = "tool-defs"
	AuditGrowth      Audit = "growth"
	AuditThinking    Audit = "thinking"
)

var auditWeights = map[Audit]float64{
	AuditUtilization: 30,
	AuditToolResults: 25,
	AuditToolDefs:    20,
	AuditGrowth:      15,
	AuditThinking:    10,
}

// Result is the output of ComputeHealth.
type Result struct {
	Overall   float64          `json:"overall"`
	Rating    Rating           `json:"rating"`
	Subscores map[Audit]float64 `json:"subscores"`
}

// point is one breakpoint in a piecewise-linear interpolation curve.
type point struct {
	x, y float64
}

// interpolate evaluates a piecewise-linear curve defined by points (sorted
// ascending by x) at x, clamping to the first/last point outside the
// curve's domain.
func interpolate(x float64, points []point) float64 {
	if x <= points[0].x {
		return points[0].y
	}
	last := points[len(points)-1]
	if x >= last.x {
		return last.y
	}
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		if x >= a.x && x <= b.x {
			frac := (x - a.x) / (b.x - a.x)
			return a.y + frac*(b.y-a.y)
		}
	}
	return last.y
}

var utilizationCurve = []point{{0, 100}, {0.5, 80}, {0.75, 50}, {0.9, 20}, {1.0, 0}}
var toolResultsCurve = []point{{0, 100}, {0.3, 80}, {0.5, 50}, {0.7, 20}, {1.0, 0}}
var toolDefsCurve = []point{{0, 100}, {2000, 90}, {5000, 60}, {10000, 30}, {20000, 0}}
var growthCurve = []point{{0, 100}, {0.1, 90}, {0.25, 70}, {0.5, 40}, {1.0, 10}}
var thinkingCurve = []point{{0, 70}, {0.05, 100}, {0.2, 80}, {0.4, 40}, {0.6, 10}}

// earlyTurnToolFloor is the minimum tool-results subscore enforced while a
// conversation is still warming up: a turn count this low hasn't
// accumulated enough tool-result bulk to judge efficiency fairly.
const earlyTurnToolFloor = 60.0
const earlyTurnThreshold = 2

// ComputeHealth scores one entry's conversation context. contextLimit is
// the model's context window (0 if unknown, treated as "not yet
// concerning" for utilization). prevTotalTokens is the previous entry's
// totalTokens in the same conversation (0 for the first entry). turnCount
// is the number of user turns seen so far in the conversation.
func ComputeHealth(ctx *normalizer.ContextInfo, composition []Entry, contextLimit int, prevTotalTokens int, turnCount int) Result {
	subscores := map[Audit]float64{
		AuditUtilization: utilizationScore(ctx.TotalTokens, contextLimit),
		AuditToolResults: toolResultsScore(composition, ctx.TotalTokens, turnCount),
		AuditToolDefs:    interpolate(float64(ctx.ToolsTokens), toolDefsCurve),
		AuditGrowth:      growthScore(ctx.TotalTokens, prevTotalTokens),
		AuditThinking:    thinkingScore(composition, ctx.TotalTokens),
	}

	overall := 0.0
	for audit, weight := range auditWeights {
		overall += subscores[audit] * weight / 100
	}

	return Result{Overall: overall, Rating: ratingFor(overall), Subscores: subscores}
}

func ratingFor(overall float64) Rating {
	switch {
	case overall >= 90:
		return RatingGood
	case overall >= 50:
		return RatingNeedsWork
	default:
		return RatingPoor
	}
}

func utilizationScore(totalTokens, contextLimit int) float64 {
	if contextLimit <= 0 {
		return 100
	}
	ratio := float64(totalTokens) / float64(contextLimit)
	return interpolate(ratio, utilizationCurve)
}

func categoryShare(composition []Entry, totalTokens int, cat Category) float64 {
	if totalTokens <= 0 {
		return 0
	}
	for _, e := range composition {
		if e.Category == cat {
			return float64(e.Tokens) / float64(totalTokens)
		}
	}
	return 0
}

func toolResultsScore(composition []Entry, totalTokens, turnCount int) float64 {
	score := interpolate(categoryShare(composition, totalTokens, CategoryToolResults), toolResultsCurve)
	if turnCount <= earlyTurnThreshold && score < earlyTurnToolFloor {
		return earlyTurnToolFloor
	}
	return score
}

func growthScore(totalTokens, prevTotalTokens int) float64 {
	if prevTotalTokens <= 0 {
		return 100
	}
	ratio := (float64(totalTokens) - float64(prevTotalTokens)) / float64(prevTotalTokens)
	if ratio < 0 {
		ratio = 0 // a shrink (compaction) is never penalized
	}
	return interpolate(ratio, growthCurve)
}

func thinkingScore(composition []Entry, totalTokens int) float64 {
	return interpolate(categoryShare(composition, totalTokens, CategoryThinking), thinkingCurve)
}
