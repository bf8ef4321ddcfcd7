package category

import "github.com/aliedrevenue/concierge/internal/domain"

// DefaultRegistry is the built-in keyword/domain/pattern bundle for the
// eight fixed categories, in the same static-map style as the
// lineage's ISP registry: household mail doesn't get a per-pack signal
// editor in v1, so one shared bundle backs every pack's classification.
var DefaultRegistry = Registry{
	domain.CategorySchool: {
		Keywords: []string{"homework", "school", "classroom", "teacher", "report card", "parent-teacher", "pta", "field trip", "syllabus", "grade"},
		Domains:  []string{"schoolmessenger.com", "classdojo.com", "k12.", ".edu"},
	},
	domain.CategorySportsActivities: {
		Keywords: []string{"practice", "game", "tournament", "roster", "team", "coach", "league", "tryout", "uniform"},
		Domains:  []string{"teamsnap.com", "leagueapps.com"},
	},
	domain.CategoryMedicalHealth: {
		Keywords:         []string{"appointment", "doctor", "dentist", "vaccine", "immunization", "prescription", "checkup", "clinic", "pediatric"},
		Domains:          []string{"mychart.com", "patientportal.com"},
		NegativeKeywords: []string{"newsletter"},
	},
	domain.CategoryFriendsSocial: {
		Keywords: []string{"birthday", "party", "playdate", "sleepover", "invite", "get-together"},
	},
	domain.CategoryLogistics: {
		Keywords: []string{"pickup", "drop-off", "carpool", "bus route", "schedule change", "early dismissal", "transportation"},
	},
	domain.CategoryFormsAdmin: {
		Keywords: []string{"form", "sign", "signature", "permission slip", "consent", "waiver", "enrollment", "registration", "due by", "deadline"},
	},
	domain.CategoryFinancialBilling: {
		Keywords: []string{"invoice", "payment", "balance due", "tuition", "fee", "receipt", "autopay", "billing"},
		Domains:  []string{"squareup.com", "venmo.com"},
	},
	domain.CategoryCommunityOptional: {
		Keywords:         []string{"volunteer", "fundraiser", "newsletter", "community", "optional", "join us"},
		NegativeKeywords: []string{"due date", "deadline", "required"},
	},
}
