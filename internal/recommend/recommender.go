package recommend

import (
	"context"
	"fmt"
	"strings"

	"churn-insight/internal/llm"
	"churn-insight/internal/logger"
	"churn-insight/internal/models"
)

// TextGenerator produces schema-constrained JSON replies.
type TextGenerator interface {
	Enabled() bool
	ChatJSON(ctx context.Context, messages []llm.Message, name string, schema map[string]any, out any) error
}

const (
	SourceRules = "rules"
	SourceLLM   = "llm"
)

type ProductReason struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type CustomerAdvice struct {
	RiskLevel   RiskLevel       `json:"risk_level"`
	Summary     string          `json:"summary"`
	TopProducts []ProductReason `json:"top_products"`
	NextActions []string        `json:"next_actions"`
	Source      string          `json:"source"`
}

type SegmentPlaybook struct {
	Segment           string          `json:"segment"`
	Summary           string          `json:"summary"`
	RecommendedBundle []ProductReason `json:"recommended_bundle"`
	Playbook          []string        `json:"playbook"`
	Source            string          `json:"source"`
}

// Recommender fixes the product codes with rules and, when a generator is
// available, lets it write the summary and reasons around them.
type Recommender struct {
	th  Thresholds
	gen TextGenerator
	log *logger.Logger
}

// New builds a recommender. gen may be nil for rules only.
func New(th Thresholds, gen TextGenerator, log *logger.Logger) *Recommender {
	return &Recommender{th: th, gen: gen, log: log.With("component", "recommend")}
}

func (r *Recommender) llmEnabled() bool {
	return r.gen != nil && r.gen.Enabled()
}

// ForCustomer never fails: any generator error falls back to the rule answer.
func (r *Recommender) ForCustomer(ctx context.Context, p Profile) CustomerAdvice {
	chosen := r.th.SelectProducts(p)
	fallback := r.customerFallback(p, chosen)
	if !r.llmEnabled() {
		return fallback
	}

	var reply CustomerAdvice
	if err := r.gen.ChatJSON(ctx, r.customerMessages(p, chosen), "customer_recommendation", customerSchema, &reply); err != nil {
		r.log.Warn("llm recommendation failed, using rules", "customer_id", p.CustomerID, "error", err)
		return fallback
	}
	reply.TopProducts = keepChosen(reply.TopProducts, chosen)
	if len(reply.TopProducts) == 0 {
		reply.TopProducts = fallback.TopProducts
	}
	reply.RiskLevel = fallback.RiskLevel
	if reply.Summary == "" {
		reply.Summary = fallback.Summary
	}
	if len(reply.NextActions) == 0 {
		reply.NextActions = fallback.NextActions
	}
	reply.Source = SourceLLM
	return reply
}

// ForSegment returns the playbook for one segment's aggregate stats.
func (r *Recommender) ForSegment(ctx context.Context, s models.SegmentSummary) SegmentPlaybook {
	bundle := BundleFor(s.Segment)
	fallback := segmentFallback(s.Segment, bundle)
	if !r.llmEnabled() {
		return fallback
	}

	var reply SegmentPlaybook
	if err := r.gen.ChatJSON(ctx, segmentMessages(s, bundle), "segment_playbook", segmentSchema, &reply); err != nil {
		r.log.Warn("llm playbook failed, using rules", "segment", s.Segment, "error", err)
		return fallback
	}
	reply.RecommendedBundle = keepChosen(reply.RecommendedBundle, bundle)
	if len(reply.RecommendedBundle) == 0 {
		reply.RecommendedBundle = fallback.RecommendedBundle
	}
	if len(reply.Playbook) == 0 {
		reply.Playbook = fallback.Playbook
	}
	reply.Segment = s.Segment
	reply.Source = SourceLLM
	return reply
}

// keepChosen drops codes outside chosen and duplicates, keeping chosen order.
func keepChosen(got []ProductReason, chosen []string) []ProductReason {
	reasons := make(map[string]string, len(got))
	for _, g := range got {
		if _, seen := reasons[g.Code]; !seen {
			reasons[g.Code] = g.Reason
		}
	}
	out := make([]ProductReason, 0, len(chosen))
	for _, c := range chosen {
		if reason, ok := reasons[c]; ok {
			out = append(out, ProductReason{Code: c, Reason: reason})
		}
	}
	return out
}

func (r *Recommender) customerFallback(p Profile, chosen []string) CustomerAdvice {
	tops := make([]ProductReason, len(chosen))
	for i, c := range chosen {
		tops[i] = ProductReason{Code: c, Reason: "policy-based recommendation"}
	}
	return CustomerAdvice{
		RiskLevel:   r.th.Risk(p.ChurnProbability),
		Summary:     "Recommendation from the standard product policy.",
		TopProducts: tops,
		NextActions: []string{"Connect to a relationship manager", "Prompt in-app application"},
		Source:      SourceRules,
	}
}

func segmentFallback(segment string, bundle []string) SegmentPlaybook {
	rs := make([]ProductReason, len(bundle))
	for i, c := range bundle {
		rs[i] = ProductReason{Code: c, Reason: "standard segment bundle"}
	}
	return SegmentPlaybook{
		Segment:           segment,
		Summary:           "Policy-based bundle recommendation.",
		RecommendedBundle: rs,
		Playbook:          []string{"Send the standard offer", "Tune the campaign with an A/B test"},
		Source:            SourceRules,
	}
}

func (r *Recommender) customerMessages(p Profile, chosen []string) []llm.Message {
	f := r.th.Flags(p)
	system := `You are the product recommendation engine of a retail bank CRM.
The selected_codes below were already decided by business rules. Your job is to
(1) summarise the customer, (2) give a very short reason per code, (3) propose next actions.
Rules:
- Reply with JSON only.
- top_products must use exactly the selected_codes, in order. Do not add or change codes.
- Keep the tone concise, practical and non-discriminatory.

Product catalog:
` + catalogText()

	user := fmt.Sprintf(`Customer:
- geography: %s
- gender: %s
- age: %d
- tenure: %d
- balance: %.2f
- products held: %d
- has credit card: %t
- active member: %t
- estimated salary: %.2f
- credit score: %d
- churn probability: %.2f
- flags: risk=%s credit=%s age_band=%s high_balance=%t high_income=%t inactive=%t few_products=%t has_card=%t

selected_codes (fixed order, use as top_products.code): %s`,
		p.Geography, p.Gender, p.Age, p.Tenure, p.Balance, p.NumOfProducts, p.HasCrCard, p.IsActiveMember,
		p.EstimatedSalary, p.CreditScore, p.ChurnProbability,
		f.Risk, f.CreditBand, f.AgeBand, f.HighBalance, f.HighIncome, f.Inactive, f.FewProducts, f.HasCard,
		verbose(chosen))

	return []llm.Message{{Role: "system", Content: system}, {Role: "user", Content: user}}
}

func segmentMessages(s models.SegmentSummary, bundle []string) []llm.Message {
	system := `You are the segment recommendation engine of a retail bank CRM.
The segment_bundle below is fixed by policy. Write only the summary and an operating playbook.
Rules:
- Reply with JSON only.
- recommended_bundle must use exactly the segment_bundle, in order.
- The playbook has 2 to 4 actionable sentences.

Product catalog:
` + catalogText()

	churn := "n/a"
	if s.AvgChurnProbability != nil {
		churn = fmt.Sprintf("%.3f", *s.AvgChurnProbability)
	}
	user := fmt.Sprintf(`Segment: %s
Aggregates:
- customers: %d
- average churn: %s
- average R/F/M: %.2f/%.2f/%.2f

segment_bundle (fixed order, use as recommended_bundle.code): %s`,
		strings.ToUpper(s.Segment), s.Customers, churn, s.AvgRecency, s.AvgFrequency, s.AvgMonetary, verbose(bundle))

	return []llm.Message{{Role: "system", Content: system}, {Role: "user", Content: user}}
}

var productReasons = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":   map[string]any{"type": "string"},
			"reason": map[string]any{"type": "string"},
		},
		"required": []string{"code", "reason"},
	},
}

var customerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"risk_level":   map[string]any{"type": "string"},
		"summary":      map[string]any{"type": "string"},
		"top_products": productReasons,
		"next_actions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"risk_level", "summary", "top_products"},
}

var segmentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"segment":            map[string]any{"type": "string"},
		"summary":            map[string]any{"type": "string"},
		"recommended_bundle": productReasons,
		"playbook":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"segment", "summary", "recommended_bundle"},
}
