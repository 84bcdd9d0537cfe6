package augment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidDirective is returned for a recognized directive whose numeric
// parameters can't be parsed.
var ErrInvalidDirective = errors.New("invalid augmentation directive")

// Directive is one parsed augmentation instruction. The concrete types are
// Resize, GaussianBlur, HorizontalFlip, VerticalFlip and Unknown.
type Directive interface {
	fmt.Stringer
	isDirective()
}

// Resize scales every sample to Width x Height.
type Resize struct{ Width, Height int }

// GaussianBlur blurs every channel with the given sigma.
type GaussianBlur struct{ Sigma int }

// HorizontalFlip mirrors samples left to right.
type HorizontalFlip struct{}

// VerticalFlip mirrors samples top to bottom.
type VerticalFlip struct{}

// Unknown is a directive that matched no keyword. It is skipped with a warning.
type Unknown struct{ Raw string }

func (Resize) isDirective()         {}
func (GaussianBlur) isDirective()   {}
func (HorizontalFlip) isDirective() {}
func (VerticalFlip) isDirective()   {}
func (Unknown) isDirective()        {}

func (d Resize) String() string       { return fmt.Sprintf("resize(%d, %d)", d.Width, d.Height) }
func (d GaussianBlur) String() string { return fmt.Sprintf("gaussian-blur(%d)", d.Sigma) }
func (HorizontalFlip) String() string { return "horizontal-flip" }
func (VerticalFlip) String() string   { return "vertical-flip" }
func (d Unknown) String() string      { return fmt.Sprintf("unknown(%q)", d.Raw) }

var digitRuns = regexp.MustCompile(`[0-9]+`)

// ParseNumbers returns every maximal run of decimal digits in s. Everything
// else (parentheses, colons, commas, signs) is a separator.
func ParseNumbers(s string) ([]int, error) {
	runs := digitRuns.FindAllString(s, -1)
	nums := make([]int, 0, len(runs))
	for _, r := range runs {
		n, err := strconv.Atoi(r)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidDirective, "%q: number %q out of range", s, r)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

// Parse converts a directive string into its Directive. Matching is
// case-insensitive and by substring, so "my-resize-op: 8" is a resize.
func Parse(raw string) (Directive, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "resize"):
		nums, err := ParseNumbers(s)
		if err != nil {
			return nil, err
		}
		switch len(nums) {
		case 0:
			return nil, errors.Wrapf(ErrInvalidDirective, "%q: resize needs a size, e.g. \"resize : 56\" or \"resize (56, 64)\"", raw)
		case 1:
			return checkResize(raw, nums[0], nums[0])
		default:
			// Anything past the first two numbers is ignored.
			return checkResize(raw, nums[0], nums[1])
		}
	case strings.Contains(s, "gaussian-blur"):
		nums, err := ParseNumbers(s)
		if err != nil {
			return nil, err
		}
		if len(nums) != 1 {
			return nil, errors.Wrapf(ErrInvalidDirective, "%q: gaussian-blur takes exactly one sigma, found %d numbers", raw, len(nums))
		}
		return GaussianBlur{Sigma: nums[0]}, nil
	case strings.Contains(s, "horizontal-flip"):
		return HorizontalFlip{}, nil
	case strings.Contains(s, "vertical-flip"):
		return VerticalFlip{}, nil
	}
	return Unknown{Raw: raw}, nil
}

func checkResize(raw string, w, h int) (Directive, error) {
	if w == 0 || h == 0 {
		return nil, errors.Wrapf(ErrInvalidDirective, "%q: resize to %dx%d", raw, w, h)
	}
	return Resize{Width: w, Height: h}, nil
}

// ParseAll parses a directive list and moves resize directives to the front,
// keeping the relative order of everything else.
func ParseAll(raws []string) ([]Directive, error) {
	var resizes, others []Directive
	for _, raw := range raws {
		d, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := d.(Resize); ok {
			resizes = append(resizes, d)
		} else {
			others = append(others, d)
		}
	}
	return append(resizes, others...), nil
}
