package profiling

import (
	"fmt"
	"strings"

	"github.com/complyer/complyer/internal/models"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
)

// Condition is one weighted predicate over a profile field.
type Condition struct {
	Field       string      `json:"field"`
	Operator    Operator    `json:"operator"`
	Value       interface{} `json:"value"`
	Weight      float64     `json:"weight"`
	Description string      `json:"description"`
}

// ApplicabilityRule scores one framework against an entity profile.
type ApplicabilityRule struct {
	FrameworkID   string                   `json:"framework_id"`
	FrameworkName string                   `json:"framework_name"`
	Category      models.FrameworkCategory `json:"category"`
	Conditions    []Condition              `json:"conditions"`
}

// ConditionResult carries per-condition satisfaction detail.
type ConditionResult struct {
	Condition Condition `json:"condition"`
	Satisfied bool      `json:"satisfied"`
}

// RelevanceAssessment is the scored outcome for one framework.
type RelevanceAssessment struct {
	FrameworkID   string              `json:"framework_id"`
	FrameworkName string              `json:"framework_name"`
	Score         float64             `json:"score"`
	Priority      models.PriorityTier `json:"priority"`
	Conditions    []ConditionResult   `json:"conditions"`
	Rationale     string              `json:"rationale"`
}

// Evaluate scores a profile against a rule. Pure function: score is
// (satisfied weight) / (total weight), always in [0,1].
func Evaluate(rule ApplicabilityRule, profile *models.EntityProfile) RelevanceAssessment {
	var totalWeight, satisfiedWeight float64
	results := make([]ConditionResult, 0, len(rule.Conditions))
	reasons := make([]string, 0, len(rule.Conditions))

	for _, cond := range rule.Conditions {
		totalWeight += cond.Weight
		satisfied := evaluateCondition(cond, profile)
		if satisfied {
			satisfiedWeight += cond.Weight
			reasons = append(reasons, cond.Description)
		}
		results = append(results, ConditionResult{Condition: cond, Satisfied: satisfied})
	}

	score := 0.0
	if totalWeight > 0 {
		score = satisfiedWeight / totalWeight
	}

	rationale := fmt.Sprintf("%s scored %.2f: no matching conditions", rule.FrameworkName, score)
	if len(reasons) > 0 {
		rationale = fmt.Sprintf("%s scored %.2f: %s", rule.FrameworkName, score, strings.Join(reasons, "; "))
	}

	return RelevanceAssessment{
		FrameworkID:   rule.FrameworkID,
		FrameworkName: rule.FrameworkName,
		Score:         score,
		Priority:      models.PriorityForScore(score),
		Conditions:    results,
		Rationale:     rationale,
	}
}

func evaluateCondition(cond Condition, profile *models.EntityProfile) bool {
	actual := profileField(cond.Field, profile)
	if actual == nil {
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return equalsValue(actual, cond.Value)
	case OpContains:
		return containsValue(actual, cond.Value)
	case OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		return aok && bok && a < b
	case OpIn:
		list, ok := cond.Value.([]string)
		if !ok {
			if anyList, ok2 := cond.Value.([]interface{}); ok2 {
				for _, v := range anyList {
					if s, ok3 := v.(string); ok3 {
						list = append(list, s)
					}
				}
			}
		}
		for _, v := range list {
			if equalsValue(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func profileField(field string, p *models.EntityProfile) interface{} {
	switch field {
	case "industry":
		return p.Industry
	case "jurisdictions":
		return []string(p.Jurisdictions)
	case "size_class":
		return string(p.SizeClass)
	case "publicly_traded":
		return p.PubliclyTraded
	case "processes_personal_data":
		return p.ProcessesPersonalData
	case "uses_ai_systems":
		return p.UsesAISystems
	case "critical_infrastructure":
		return p.CriticalInfrastructure
	case "data_categories":
		return []string(p.DataCategories)
	case "annual_revenue":
		if p.AnnualRevenue == nil {
			return nil
		}
		return *p.AnnualRevenue
	case "employee_count":
		if p.EmployeeCount == nil {
			return nil
		}
		return *p.EmployeeCount
	default:
		return nil
	}
}

func equalsValue(actual, expected interface{}) bool {
	if a, ok := actual.(string); ok {
		if e, ok2 := expected.(string); ok2 {
			return strings.EqualFold(a, e)
		}
	}
	if a, ok := actual.(bool); ok {
		if e, ok2 := expected.(bool); ok2 {
			return a == e
		}
	}
	a, aok := toFloat(actual)
	b, bok := toFloat(expected)
	if aok && bok {
		return a == b
	}
	return false
}

func containsValue(actual, expected interface{}) bool {
	needle, ok := expected.(string)
	if !ok {
		return false
	}
	switch v := actual.(type) {
	case []string:
		for _, item := range v {
			if strings.EqualFold(item, needle) {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(strings.ToLower(v), strings.ToLower(needle))
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// BuiltinRules returns the applicability rule sets for frameworks the control
// catalog models out of the box.
func BuiltinRules() []ApplicabilityRule {
	return []ApplicabilityRule{
		{
			FrameworkID:   "gdpr",
			FrameworkName: "GDPR",
			Category:      models.CategoryDataProtection,
			Conditions: []Condition{
				{Field: "jurisdictions", Operator: OpContains, Value: "eu", Weight: 0.5, Description: "operates in the EU"},
				{Field: "processes_personal_data", Operator: OpEquals, Value: true, Weight: 0.5, Description: "processes personal data"},
			},
		},
		{
			FrameworkID:   "ccpa",
			FrameworkName: "CCPA/CPRA",
			Category:      models.CategoryDataProtection,
			Conditions: []Condition{
				{Field: "jurisdictions", Operator: OpContains, Value: "us-ca", Weight: 0.4, Description: "operates in California"},
				{Field: "processes_personal_data", Operator: OpEquals, Value: true, Weight: 0.4, Description: "processes personal data"},
				{Field: "annual_revenue", Operator: OpGreaterThan, Value: int64(25_000_000), Weight: 0.2, Description: "annual revenue above $25M"},
			},
		},
		{
			FrameworkID:   "hipaa",
			FrameworkName: "HIPAA",
			Category:      models.CategoryHealthcare,
			Conditions: []Condition{
				{Field: "jurisdictions", Operator: OpContains, Value: "us", Weight: 0.3, Description: "operates in the US"},
				{Field: "industry", Operator: OpIn, Value: []string{"healthcare", "health_insurance", "medical_devices"}, Weight: 0.4, Description: "healthcare industry"},
				{Field: "data_categories", Operator: OpContains, Value: "health", Weight: 0.3, Description: "handles health data"},
			},
		},
		{
			FrameworkID:   "pci-dss",
			FrameworkName: "PCI DSS",
			Category:      models.CategoryFinancial,
			Conditions: []Condition{
				{Field: "data_categories", Operator: OpContains, Value: "payment_card", Weight: 0.7, Description: "handles payment card data"},
				{Field: "industry", Operator: OpIn, Value: []string{"retail", "ecommerce", "financial_services", "hospitality"}, Weight: 0.3, Description: "card-accepting industry"},
			},
		},
		{
			FrameworkID:   "sox",
			FrameworkName: "SOX",
			Category:      models.CategoryFinancial,
			Conditions: []Condition{
				{Field: "publicly_traded", Operator: OpEquals, Value: true, Weight: 0.6, Description: "publicly traded"},
				{Field: "jurisdictions", Operator: OpContains, Value: "us", Weight: 0.4, Description: "US-listed"},
			},
		},
		{
			FrameworkID:   "nis2",
			FrameworkName: "NIS2",
			Category:      models.CategorySecurity,
			Conditions: []Condition{
				{Field: "jurisdictions", Operator: OpContains, Value: "eu", Weight: 0.3, Description: "operates in the EU"},
				{Field: "critical_infrastructure", Operator: OpEquals, Value: true, Weight: 0.5, Description: "critical infrastructure operator"},
				{Field: "size_class", Operator: OpIn, Value: []string{"medium", "large", "enterprise"}, Weight: 0.2, Description: "medium or larger entity"},
			},
		},
		{
			FrameworkID:   "dora",
			FrameworkName: "DORA",
			Category:      models.CategoryFinancial,
			Conditions: []Condition{
				{Field: "jurisdictions", Operator: OpContains, Value: "eu", Weight: 0.4, Description: "operates in the EU"},
				{Field: "industry", Operator: OpIn, Value: []string{"financial_services", "banking", "insurance", "fintech"}, Weight: 0.6, Description: "financial entity"},
			},
		},
		{
			FrameworkID:   "eu-ai-act",
			FrameworkName: "EU AI Act",
			Category:      models.CategoryAIGovernance,
			Conditions: []Condition{
				{Field: "jurisdictions", Operator: OpContains, Value: "eu", Weight: 0.4, Description: "operates in the EU"},
				{Field: "uses_ai_systems", Operator: OpEquals, Value: true, Weight: 0.6, Description: "deploys AI systems"},
			},
		},
		{
			FrameworkID:   "iso-27001",
			FrameworkName: "ISO/IEC 27001",
			Category:      models.CategorySecurity,
			Conditions: []Condition{
				{Field: "size_class", Operator: OpIn, Value: []string{"medium", "large", "enterprise"}, Weight: 0.4, Description: "medium or larger entity"},
				{Field: "data_categories", Operator: OpContains, Value: "confidential", Weight: 0.3, Description: "handles confidential data"},
				{Field: "industry", Operator: OpIn, Value: []string{"technology", "saas", "financial_services", "telecom"}, Weight: 0.3, Description: "information-intensive industry"},
			},
		},
		{
			FrameworkID:   "soc2",
			FrameworkName: "SOC 2",
			Category:      models.CategorySecurity,
			Conditions: []Condition{
				{Field: "industry", Operator: OpIn, Value: []string{"technology", "saas", "cloud_services"}, Weight: 0.5, Description: "service organization"},
				{Field: "processes_personal_data", Operator: OpEquals, Value: true, Weight: 0.25, Description: "processes customer data"},
				{Field: "jurisdictions", Operator: OpContains, Value: "us", Weight: 0.25, Description: "US customer base"},
			},
		},
	}
}

// HeuristicScore is the category-based fallback for discovered frameworks
// that have no modeled rule set. Blends jurisdiction match, a per-category
// predicate, and entity-size weighting.
func HeuristicScore(f *models.DiscoveredFramework, profile *models.EntityProfile) (float64, []string) {
	var score float64
	var reasons []string

	for _, j := range profile.Jurisdictions {
		if strings.EqualFold(j, f.Jurisdiction) || strings.EqualFold(f.Jurisdiction, "global") {
			score += 0.4
			reasons = append(reasons, fmt.Sprintf("jurisdiction %s matches", f.Jurisdiction))
			break
		}
	}

	categoryHit := false
	switch f.Category {
	case models.CategoryDataProtection:
		categoryHit = profile.ProcessesPersonalData
	case models.CategoryAIGovernance:
		categoryHit = profile.UsesAISystems
	case models.CategoryFinancial:
		categoryHit = profile.PubliclyTraded || containsValue([]string(profile.DataCategories), "financial")
	case models.CategoryHealthcare:
		categoryHit = containsValue([]string(profile.DataCategories), "health")
	case models.CategorySecurity:
		categoryHit = profile.CriticalInfrastructure || profile.SizeClass == models.SizeLarge || profile.SizeClass == models.SizeEnterprise
	case models.CategoryIndustry:
		categoryHit = true
	}
	if categoryHit {
		score += 0.4
		reasons = append(reasons, fmt.Sprintf("category %s applies to profile", f.Category))
	}

	switch profile.SizeClass {
	case models.SizeEnterprise:
		score += 0.2
		reasons = append(reasons, "enterprise-scale entity")
	case models.SizeLarge:
		score += 0.15
		reasons = append(reasons, "large entity")
	case models.SizeMedium:
		score += 0.1
	case models.SizeSmall:
		score += 0.05
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, reasons
}
