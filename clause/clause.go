// Package clause holds the contract clause vocabulary shared by chunking and
// verification.
package clause

import (
	"sort"
	"strings"
)

// Unknown is reported when no category matches
const Unknown = ""

// leadWindow is how much leading text counts extra when classifying
const leadWindow = 160

var vocabulary = map[string][]string{
	"payment": {
		"payment", "pay ", "paid", "invoice", "fee", "fees", "price", "remittance",
		"due within", "net 30", "net 60", "billing", "付款", "支付", "价款", "发票",
	},
	"liability": {
		"liability", "liable", "damages", "responsible for", "compensation", "赔偿", "责任",
	},
	"limitation_of_liability": {
		"limitation of liability", "limit of liability", "aggregate liability",
		"consequential damages", "in no event", "责任限制",
	},
	"indemnification": {
		"indemnify", "indemnification", "hold harmless", "defend", "赔偿并使",
	},
	"confidentiality": {
		"confidential", "confidentiality", "non-disclosure", "nondisclosure",
		"proprietary information", "trade secret", "保密", "机密",
	},
	"termination": {
		"terminate", "termination", "expiry", "expiration", "cancel", "rescind",
		"终止", "解除",
	},
	"renewal": {
		"renew", "renewal", "renews", "automatically extended", "successive term",
		"evergreen", "续约", "续期",
	},
	"intellectual_property": {
		"intellectual property", "copyright", "patent", "trademark", "license",
		"work product", "知识产权", "专利", "著作权",
	},
	"dispute_resolution": {
		"dispute", "arbitration", "mediation", "litigation", "court", "争议", "仲裁",
	},
	"governing_law": {
		"governing law", "governed by", "laws of", "jurisdiction", "适用法律", "管辖",
	},
	"force_majeure": {
		"force majeure", "act of god", "beyond its reasonable control", "不可抗力",
	},
	"delivery": {
		"delivery", "deliver", "shipment", "acceptance", "交付", "交货", "验收",
	},
	"warranty": {
		"warranty", "warrants", "guarantee", "defect", "保证", "质保",
	},
	"amendment": {
		"amendment", "amend", "modification", "modified only", "变更", "修改",
	},
	"assignment": {
		"assign", "assignment", "transfer this agreement", "subcontract", "转让",
	},
	"notices": {
		"notice", "notices", "written notice", "notify", "通知",
	},
	"entire_agreement": {
		"entire agreement", "supersedes", "whole agreement", "完整协议",
	},
	"severability": {
		"severability", "severable", "invalid or unenforceable", "可分割",
	},
}

// Categories lists every category of the vocabulary in sorted order
func Categories() []string {
	out := make([]string, 0, len(vocabulary))
	for c := range vocabulary {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Keywords returns the vocabulary terms of a category
func Keywords(category string) []string {
	return vocabulary[category]
}

// Known reports whether category is part of the vocabulary
func Known(category string) bool {
	_, ok := vocabulary[category]
	return ok
}

// Detect scores every category against text and returns the matching ones,
// best first. Terms in the leading text weigh three times as much.
func Detect(text string) []string {
	lower := strings.ToLower(text)
	lead := lower
	if len(lead) > leadWindow {
		lead = lead[:leadWindow]
	}

	scores := make(map[string]int)
	for category, terms := range vocabulary {
		score := 0
		for _, term := range terms {
			score += strings.Count(lower, term)
			score += 2 * strings.Count(lead, term)
		}
		if score > 0 {
			scores[category] = score
		}
	}

	out := make([]string, 0, len(scores))
	for c := range scores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Classify returns the best matching category, or Unknown
func Classify(text string) string {
	if found := Detect(text); len(found) > 0 {
		return found[0]
	}
	return Unknown
}
