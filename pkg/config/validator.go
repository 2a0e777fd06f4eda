package config

import "fmt"

// Validator checks a loaded Config for internally-consistent values
// before it is handed to the rest of the system.
type Validator struct {
	cfg *Config
}

// NewValidator builds a Validator bound to cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check and returns the first failure as the
// check's own *ValidationError.
func (v *Validator) ValidateAll() error {
	checks := []func() error{
		v.validateConcurrency,
		v.validateChunking,
		v.validateVerdictThreshold,
		v.validateModelName,
		v.validateTriad,
		v.validateCriteria,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateConcurrency() error {
	c := v.cfg.Concurrency
	if c.ValidationMaxConcurrent < 1 {
		return NewValidationError("validation_max_concurrent", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, c.ValidationMaxConcurrent))
	}
	if c.RewriteMaxConcurrent < 1 {
		return NewValidationError("rewrite_max_concurrent", fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, c.RewriteMaxConcurrent))
	}
	if c.ValidationTimeout <= 0 {
		return NewValidationError("validation_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.RewriteTimeout <= 0 {
		return NewValidationError("rewrite_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateChunking() error {
	c := v.cfg.Chunking
	if c.TokensMin < 1 {
		return NewValidationError("chunk_tokens_min", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if c.TokensMax <= c.TokensMin {
		return NewValidationError("chunk_tokens_max", fmt.Errorf("%w: must exceed chunk_tokens_min (%d)", ErrInvalidValue, c.TokensMin))
	}
	if c.OverlapTokens < 0 {
		return NewValidationError("chunk_overlap_tokens", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if c.OverlapTokens >= c.TokensMin {
		return NewValidationError("chunk_overlap_tokens", fmt.Errorf("%w: must be less than chunk_tokens_min (%d)", ErrInvalidValue, c.TokensMin))
	}
	return nil
}

func (v *Validator) validateVerdictThreshold() error {
	t := v.cfg.VerdictThreshold
	if t <= 0 || t > 1 {
		return NewValidationError("verdict_threshold", fmt.Errorf("%w: must be in (0, 1], got %f", ErrInvalidValue, t))
	}
	return nil
}

func (v *Validator) validateModelName() error {
	if v.cfg.ModelName == "" {
		return NewValidationError("model_name", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateTriad() error {
	if v.cfg.Triad.MaxRounds < 1 {
		return NewValidationError("triad.max_rounds", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if v.cfg.Triad.RoundTimeout <= 0 {
		return NewValidationError("triad.round_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateCriteria() error {
	seen := make(map[string]bool, len(v.cfg.Criteria))
	for _, c := range v.cfg.Criteria {
		if c.Key == "" {
			return NewValidationError("criteria[].key", ErrMissingRequiredField)
		}
		if seen[c.Key] {
			return NewValidationError("criteria[].key", fmt.Errorf("%w: duplicate key %q", ErrInvalidValue, c.Key))
		}
		seen[c.Key] = true
		if c.Weight < 0 {
			return NewValidationError(fmt.Sprintf("criteria[%s].weight", c.Key), fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
		}
	}
	return nil
}
