package relevance

import "testing"

func TestScore_DomainMatchAloneClearsThreshold(t *testing.T) {
	s := Score("lincoln.district.k12.us", "Weekly update", "nothing special here",
		[]string{"*.district.k12.us"}, nil, nil)

	if s != 0.6 {
		t.Errorf("Score = %v, want 0.6", s)
	}
	if !IsCandidate(s) {
		t.Error("expected a domain match to clear CandidateThreshold")
	}
}

func TestScore_ExcludeKeywordZeroesOutRegardlessOfDomain(t *testing.T) {
	s := Score("lincoln.district.k12.us", "Unsubscribe from this list", "",
		[]string{"*.district.k12.us"}, []string{"unsubscribe"}, []string{"unsubscribe"})

	if s != 0 {
		t.Errorf("Score = %v, want 0 when an exclude keyword is present", s)
	}
}

func TestScore_KeywordBonusCapped(t *testing.T) {
	subject := "field trip permission slip homework due project test quiz review"
	keywords := []string{
		"field trip", "permission slip", "homework", "due",
		"project", "test", "quiz", "review",
	}
	s := Score("unrelated.com", subject, "", nil, keywords, nil)

	if s != maxKeywordScore {
		t.Errorf("Score = %v, want keyword bonus capped at %v", s, maxKeywordScore)
	}
}

func TestScore_NoMatchIsZero(t *testing.T) {
	s := Score("unrelated.com", "hello", "world", []string{"school.edu"}, []string{"homework"}, nil)
	if s != 0 {
		t.Errorf("Score = %v, want 0", s)
	}
	if IsCandidate(s) {
		t.Error("zero score should not clear the candidate threshold")
	}
}

func TestMatchesAnyDomain_Wildcard(t *testing.T) {
	if !matchesAnyDomain("mail.lincoln.district.k12.us", []string{"*.district.k12.us"}) {
		t.Error("expected wildcard pattern to match a deeper subdomain")
	}
	if matchesAnyDomain("example.com", []string{"*.district.k12.us"}) {
		t.Error("expected no match for an unrelated domain")
	}
}
