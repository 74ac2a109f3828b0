// Package registry holds the static screening catalog: the 23 canonical
// items, the 13 symptom domains, the canonical domain priority order, the
// per-domain threshold configs, and the related-domain adjacency map.
//
// All data here is immutable, process-wide, and loaded once at package init.
package registry

import "fmt"

// Domain is one of the 13 symptom categories.
type Domain string

const (
	DomainDepression        Domain = "Depression"
	DomainAnxiety           Domain = "Anxiety"
	DomainPanic             Domain = "Panic"
	DomainSleep             Domain = "Sleep"
	DomainAppetite          Domain = "Appetite"
	DomainConcentration     Domain = "Concentration"
	DomainEnergy            Domain = "Energy"
	DomainAnhedonia         Domain = "Anhedonia"
	DomainIrritability      Domain = "Irritability"
	DomainTrauma            Domain = "Trauma"
	DomainPsychosis         Domain = "Psychosis"
	DomainSubstanceUse      Domain = "Substance Use"
	DomainSuicidalIdeation  Domain = "Suicidal Ideation"
)

// AggregationRule decides how item scores combine when flagging a domain.
type AggregationRule string

const (
	// RuleAny flags the domain when any item meets the threshold.
	RuleAny AggregationRule = "any"
	// RuleAll flags the domain only when every item meets the threshold.
	RuleAll AggregationRule = "all"
	// RuleSum flags the domain when the score sum meets the threshold.
	RuleSum AggregationRule = "sum"
)

// Item is one canonical screening question.
type Item struct {
	ID     string `json:"id"`
	Domain Domain `json:"domain"`
	Text   string `json:"text"`
}

// DomainConfig holds the threshold configuration for one domain.
type DomainConfig struct {
	Domain    Domain          `json:"domain"`
	Threshold int             `json:"threshold"`
	Rule      AggregationRule `json:"rule"`
}

// Items is the canonical 23-item catalog, in registry order within each domain.
var Items = []Item{
	{ID: "D1", Domain: DomainDepression, Text: "Over the last two weeks, how often have you felt down, depressed, or hopeless?"},
	{ID: "D2", Domain: DomainDepression, Text: "How often have you felt that you were a failure or had let yourself or your family down?"},
	{ID: "A1", Domain: DomainAnxiety, Text: "How often have you felt nervous, anxious, or on edge?"},
	{ID: "A2", Domain: DomainAnxiety, Text: "How often have you found yourself unable to stop or control worrying?"},
	{ID: "P1", Domain: DomainPanic, Text: "How often have you had sudden episodes of intense fear or a racing heart that came out of nowhere?"},
	{ID: "SL1", Domain: DomainSleep, Text: "How often have you had trouble falling asleep or staying asleep?"},
	{ID: "SL2", Domain: DomainSleep, Text: "How often have you slept much more than usual or struggled to get out of bed?"},
	{ID: "AP1", Domain: DomainAppetite, Text: "How often has your appetite been noticeably smaller or larger than usual?"},
	{ID: "C1", Domain: DomainConcentration, Text: "How often have you had trouble concentrating on things like reading or conversations?"},
	{ID: "C2", Domain: DomainConcentration, Text: "How often have you found yourself making decisions with much more difficulty than usual?"},
	{ID: "E1", Domain: DomainEnergy, Text: "How often have you felt tired or had little energy, even after resting?"},
	{ID: "E2", Domain: DomainEnergy, Text: "How often have everyday tasks felt physically exhausting to start or finish?"},
	{ID: "AN1", Domain: DomainAnhedonia, Text: "How often have you had little interest or pleasure in doing things you usually enjoy?"},
	{ID: "AN2", Domain: DomainAnhedonia, Text: "How often have you avoided spending time with people you normally like being around?"},
	{ID: "I1", Domain: DomainIrritability, Text: "How often have you felt unusually irritable or quick to anger?"},
	{ID: "I2", Domain: DomainIrritability, Text: "How often have small frustrations led to arguments or outbursts?"},
	{ID: "T1", Domain: DomainTrauma, Text: "How often have you had unwanted memories, dreams, or flashbacks of a stressful experience?"},
	{ID: "T2", Domain: DomainTrauma, Text: "How often have you gone out of your way to avoid places, people, or thoughts connected to a stressful experience?"},
	{ID: "PS1", Domain: DomainPsychosis, Text: "How often have you heard or seen things that other people could not, or felt others were watching or targeting you?"},
	{ID: "SU1", Domain: DomainSubstanceUse, Text: "How often have you used alcohol or other substances to get through the day or to cope with feelings?"},
	{ID: "SU2", Domain: DomainSubstanceUse, Text: "How often has your use of alcohol or other substances caused problems with work, relationships, or health?"},
	{ID: "SI1", Domain: DomainSuicidalIdeation, Text: "How often have you had thoughts that you would be better off dead or of hurting yourself in some way?"},
	{ID: "SI2", Domain: DomainSuicidalIdeation, Text: "How often have you thought about how you might end your life, even in passing?"},
}

// CanonicalDomainOrder is the fixed 13-domain priority order. Suicidal
// Ideation is last so sensitive questioning is not introduced abruptly,
// despite its low trigger threshold.
var CanonicalDomainOrder = []Domain{
	DomainDepression,
	DomainAnxiety,
	DomainPanic,
	DomainSleep,
	DomainAppetite,
	DomainConcentration,
	DomainEnergy,
	DomainAnhedonia,
	DomainIrritability,
	DomainTrauma,
	DomainPsychosis,
	DomainSubstanceUse,
	DomainSuicidalIdeation,
}

// DefaultDomainThreshold applies to most domains; a completed item scoring at
// or above it marks the domain high-severity.
const DefaultDomainThreshold = 2

// SensitiveDomainThreshold applies to Suicidal Ideation and Substance Use,
// where any endorsement at all warrants prioritization.
const SensitiveDomainThreshold = 1

// domainConfigs maps each domain to its threshold configuration.
var domainConfigs = map[Domain]DomainConfig{
	DomainDepression:       {Domain: DomainDepression, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainAnxiety:          {Domain: DomainAnxiety, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainPanic:            {Domain: DomainPanic, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainSleep:            {Domain: DomainSleep, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainAppetite:         {Domain: DomainAppetite, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainConcentration:    {Domain: DomainConcentration, Threshold: DefaultDomainThreshold, Rule: RuleAll},
	DomainEnergy:           {Domain: DomainEnergy, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainAnhedonia:        {Domain: DomainAnhedonia, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainIrritability:     {Domain: DomainIrritability, Threshold: DefaultDomainThreshold, Rule: RuleAll},
	DomainTrauma:           {Domain: DomainTrauma, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainPsychosis:        {Domain: DomainPsychosis, Threshold: DefaultDomainThreshold, Rule: RuleAny},
	DomainSubstanceUse:     {Domain: DomainSubstanceUse, Threshold: SensitiveDomainThreshold, Rule: RuleSum},
	DomainSuicidalIdeation: {Domain: DomainSuicidalIdeation, Threshold: SensitiveDomainThreshold, Rule: RuleAny},
}

// relatedDomains is the fixed adjacency map: domains whose items become
// priority candidates when the key domain turns high-severity.
var relatedDomains = map[Domain][]Domain{
	DomainDepression:       {DomainAnhedonia, DomainSleep, DomainEnergy, DomainSuicidalIdeation},
	DomainAnxiety:          {DomainPanic, DomainSleep, DomainConcentration},
	DomainPanic:            {DomainAnxiety},
	DomainSleep:            {DomainEnergy, DomainConcentration},
	DomainAppetite:         {DomainDepression},
	DomainConcentration:    {DomainEnergy},
	DomainEnergy:           {DomainSleep, DomainDepression},
	DomainAnhedonia:        {DomainDepression, DomainEnergy},
	DomainIrritability:     {DomainAnxiety, DomainTrauma},
	DomainTrauma:           {DomainAnxiety, DomainIrritability, DomainSleep},
	DomainPsychosis:        {DomainTrauma},
	DomainSubstanceUse:     {DomainDepression, DomainSuicidalIdeation},
	DomainSuicidalIdeation: {DomainDepression},
}

// itemsByID and itemsByDomain are derived lookup indexes built at init.
var (
	itemsByID     = make(map[string]Item, len(Items))
	itemsByDomain = make(map[Domain][]Item, len(CanonicalDomainOrder))
)

func init() {
	for _, item := range Items {
		if _, dup := itemsByID[item.ID]; dup {
			panic(fmt.Sprintf("registry: duplicate item id %q", item.ID))
		}
		if _, ok := domainConfigs[item.Domain]; !ok {
			panic(fmt.Sprintf("registry: item %q references unknown domain %q", item.ID, item.Domain))
		}
		itemsByID[item.ID] = item
		itemsByDomain[item.Domain] = append(itemsByDomain[item.Domain], item)
	}
}

// ItemByID returns the item with the given id.
func ItemByID(id string) (Item, bool) {
	item, ok := itemsByID[id]
	return item, ok
}

// IsKnownItem reports whether the id names a canonical item.
func IsKnownItem(id string) bool {
	_, ok := itemsByID[id]
	return ok
}

// ItemsForDomain returns the domain's items in registry order.
func ItemsForDomain(d Domain) []Item {
	return append([]Item(nil), itemsByDomain[d]...)
}

// AllItemIDs returns every item id in registry order.
func AllItemIDs() []string {
	ids := make([]string, 0, len(Items))
	for _, item := range Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// ItemCount is the number of canonical items.
func ItemCount() int {
	return len(Items)
}

// ConfigFor returns the threshold configuration for a domain.
func ConfigFor(d Domain) (DomainConfig, bool) {
	cfg, ok := domainConfigs[d]
	return cfg, ok
}

// RelatedDomains returns the statically configured related domains for d.
func RelatedDomains(d Domain) []Domain {
	return append([]Domain(nil), relatedDomains[d]...)
}

// FlaggedDomains applies every domain's aggregation rule to the given
// per-item scores and returns the flagged domains in canonical order. Items
// without a score are skipped; a domain with no scored items is never flagged.
func FlaggedDomains(scores map[string]int) []Domain {
	var flagged []Domain
	for _, d := range CanonicalDomainOrder {
		cfg, ok := domainConfigs[d]
		if !ok {
			continue
		}
		var domainScores []int
		for _, item := range itemsByDomain[d] {
			if s, scored := scores[item.ID]; scored {
				domainScores = append(domainScores, s)
			}
		}
		if DomainFlagged(cfg, domainScores) {
			flagged = append(flagged, d)
		}
	}
	return flagged
}

// DomainFlagged applies the domain's aggregation rule to the given completed
// item scores and reports whether the domain is flagged.
func DomainFlagged(cfg DomainConfig, scores []int) bool {
	if len(scores) == 0 {
		return false
	}
	switch cfg.Rule {
	case RuleAll:
		for _, s := range scores {
			if s < cfg.Threshold {
				return false
			}
		}
		return true
	case RuleSum:
		sum := 0
		for _, s := range scores {
			sum += s
		}
		return sum >= cfg.Threshold
	default: // RuleAny
		for _, s := range scores {
			if s >= cfg.Threshold {
				return true
			}
		}
		return false
	}
}
