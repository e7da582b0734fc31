package regions

import (
	"errors"
	"fmt"
)

// Config holds the region detection thresholds. Lengths are in document
// units (points).
type Config struct {
	ContainmentThreshold     float64  `mapstructure:"containment_threshold" yaml:"containment_threshold" json:"containment_threshold"`
	NearDuplicateIoU         float64  `mapstructure:"near_duplicate_iou" yaml:"near_duplicate_iou" json:"near_duplicate_iou"`
	Margin                   float64  `mapstructure:"margin" yaml:"margin" json:"margin"`
	EquationGap              float64  `mapstructure:"equation_gap" yaml:"equation_gap" json:"equation_gap"`
	MinEquationWidth         float64  `mapstructure:"min_equation_width" yaml:"min_equation_width" json:"min_equation_width"`
	MinEquationHeight        float64  `mapstructure:"min_equation_height" yaml:"min_equation_height" json:"min_equation_height"`
	MinImageSize             float64  `mapstructure:"min_image_size" yaml:"min_image_size" json:"min_image_size"`
	MathFontPatterns         []string `mapstructure:"math_font_patterns" yaml:"math_font_patterns" json:"math_font_patterns"`
	WhitespaceGapRatio       float64  `mapstructure:"whitespace_gap_ratio" yaml:"whitespace_gap_ratio" json:"whitespace_gap_ratio"`
	MinInkRatio              float64  `mapstructure:"min_ink_ratio" yaml:"min_ink_ratio" json:"min_ink_ratio"`
	EquationAcceptConfidence float64  `mapstructure:"equation_accept_confidence" yaml:"equation_accept_confidence" json:"equation_accept_confidence"`
}

// DefaultMathFontPatterns match the TeX math families and common symbol fonts.
var DefaultMathFontPatterns = []string{
	"CMMI", "CMSY", "CMEX", "MSAM", "MSBM", "EUFM", "RSFS",
	"Math", "Symbol", "STIX", "Euclid", "Mathematica",
}

// DefaultConfig returns the canonical constants.
func DefaultConfig() Config {
	return Config{
		ContainmentThreshold:     0.8,
		NearDuplicateIoU:         0.5,
		Margin:                   4,
		EquationGap:              6,
		MinEquationWidth:         24,
		MinEquationHeight:        8,
		MinImageSize:             16,
		MathFontPatterns:         append([]string(nil), DefaultMathFontPatterns...),
		WhitespaceGapRatio:       0.08,
		MinInkRatio:              0.01,
		EquationAcceptConfidence: 0.6,
	}
}

// Validate checks threshold ranges.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"containment_threshold":      c.ContainmentThreshold,
		"near_duplicate_iou":         c.NearDuplicateIoU,
		"whitespace_gap_ratio":       c.WhitespaceGapRatio,
		"min_ink_ratio":              c.MinInkRatio,
		"equation_accept_confidence": c.EquationAcceptConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.ContainmentThreshold == 0 {
		return errors.New("containment_threshold must be positive")
	}
	if c.Margin < 0 || c.EquationGap < 0 || c.MinEquationWidth < 0 || c.MinEquationHeight < 0 || c.MinImageSize < 0 {
		return errors.New("lengths must be non-negative")
	}
	return nil
}
