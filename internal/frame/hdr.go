package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// EOTF is the electro-optical transfer function signalled with HDR frames,
// numbered as in CEA-861.3.
type EOTF int64

const (
	EOTFSDR EOTF = 0
	EOTFHDR EOTF = 1
	EOTFPQ  EOTF = 2
	EOTFHLG EOTF = 3
)

// Default mastering display values signalled when the caller does not
// override them (Rec. 2020 primaries, D65 white point).
const (
	defaultMaxDisplayMasteringLuminance = 1000.0
	defaultMinDisplayMasteringLuminance = 0.0001
	defaultMaxCLL                       = 1000.0
	defaultMaxFALL                      = 50.0
)

// Chromaticity holds CIE 1931 xy coordinates of the mastering display
// primaries and white point.
type Chromaticity struct {
	RedX, RedY     float64
	GreenX, GreenY float64
	BlueX, BlueY   float64
	WhiteX, WhiteY float64
}

var rec2020 = Chromaticity{
	RedX: 0.708, RedY: 0.292,
	GreenX: 0.170, GreenY: 0.797,
	BlueX: 0.131, BlueY: 0.046,
	WhiteX: 0.3127, WhiteY: 0.3290,
}

// HDRMetadata is the static HDR signalling block attached to output frames.
type HDRMetadata struct {
	EOTF      EOTF
	Primaries Chromaticity

	MaxDisplayMasteringLuminance float64
	MinDisplayMasteringLuminance float64
	MaxCLL                       float64
	MaxFALL                      float64
}

// DefaultHDRMetadata returns the block used when HDR output is requested
// without further parameters.
func DefaultHDRMetadata() HDRMetadata {
	return HDRMetadata{
		EOTF:                         EOTFHDR,
		Primaries:                    rec2020,
		MaxDisplayMasteringLuminance: defaultMaxDisplayMasteringLuminance,
		MinDisplayMasteringLuminance: defaultMinDisplayMasteringLuminance,
		MaxCLL:                       defaultMaxCLL,
		MaxFALL:                      defaultMaxFALL,
	}
}

// ParseHDRMetadata parses an HDR option string of the form
//
//	<eotf>[,<key>=<value>...]
//
// where <eotf> is SDR, HDR, PQ, HLG or an integer 0-7, and the keys are
// maxDisplayMasteringLuminance, minDisplayMasteringLuminance, maxCLL and
// maxFALL (float values, cd/m²). The empty string selects the defaults.
func ParseHDRMetadata(spec string) (HDRMetadata, error) {
	m := DefaultHDRMetadata()
	if spec == "" {
		return m, nil
	}

	parts := strings.Split(spec, ",")
	switch mode := strings.ToUpper(parts[0]); mode {
	case "SDR":
		m.EOTF = EOTFSDR
	case "HDR":
		m.EOTF = EOTFHDR
	case "PQ":
		m.EOTF = EOTFPQ
	case "HLG":
		m.EOTF = EOTFHLG
	default:
		v, err := strconv.ParseInt(mode, 10, 64)
		if err != nil {
			return m, fmt.Errorf("unknown EOTF %q", parts[0])
		}
		if v < 0 || v > 7 {
			return m, fmt.Errorf("EOTF %d outside [0..7]", v)
		}
		m.EOTF = EOTF(v)
	}

	for _, opt := range parts[1:] {
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			return m, fmt.Errorf("malformed HDR attribute %q", opt)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return m, fmt.Errorf("HDR attribute %s: %w", key, err)
		}
		switch key {
		case "maxDisplayMasteringLuminance":
			m.MaxDisplayMasteringLuminance = f
		case "minDisplayMasteringLuminance":
			m.MinDisplayMasteringLuminance = f
		case "maxCLL":
			m.MaxCLL = f
		case "maxFALL":
			m.MaxFALL = f
		default:
			return m, fmt.Errorf("unrecognized HDR attribute %q", key)
		}
	}
	return m, nil
}
