package config

import "testing"

func TestLoadFusionDefaults(t *testing.T) {
	t.Setenv("FUSION_RRF_K", "")
	t.Setenv("FUSION_CANDIDATE_MULTIPLIER", "")
	t.Setenv("BOOST_COUNTRY", "")
	t.Setenv("BOOST_DEPARTMENT", "")

	cfg := Load()
	if cfg.RRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.RRFK)
	}
	if cfg.CandidateMultiplier != 2 {
		t.Fatalf("expected default candidate multiplier 2, got %d", cfg.CandidateMultiplier)
	}
	if cfg.CountryBoost != 1.3 {
		t.Fatalf("expected default country boost 1.3, got %v", cfg.CountryBoost)
	}
	if cfg.DepartmentBoost != 1.2 {
		t.Fatalf("expected default department boost 1.2, got %v", cfg.DepartmentBoost)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("FUSION_RRF_K", "75")
	t.Setenv("RAG_MAX_CONTEXT_CHARS", "4000")
	t.Setenv("TRENDING_MIN_VIEWS", "5")
	t.Setenv("API_RATE_LIMIT_RPS", "12.5")

	cfg := Load()
	if cfg.RRFK != 75 {
		t.Fatalf("expected rrf k 75, got %d", cfg.RRFK)
	}
	if cfg.MaxContextChars != 4000 {
		t.Fatalf("expected max context chars 4000, got %d", cfg.MaxContextChars)
	}
	if cfg.TrendingMinViews != 5 {
		t.Fatalf("expected trending min views 5, got %d", cfg.TrendingMinViews)
	}
	if cfg.APIRateLimitRPS != 12.5 {
		t.Fatalf("expected rate limit 12.5, got %v", cfg.APIRateLimitRPS)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RAG_ANSWER_MAX_TOKENS", "not-a-number")
	t.Setenv("BOOST_COUNTRY", "high")

	cfg := Load()
	if cfg.AnswerMaxTokens != 500 {
		t.Fatalf("expected fallback answer max tokens 500, got %d", cfg.AnswerMaxTokens)
	}
	if cfg.CountryBoost != 1.3 {
		t.Fatalf("expected fallback country boost 1.3, got %v", cfg.CountryBoost)
	}
}
