package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Mode selects which sampling knob the preset favours.
type Mode string

const (
	ModeTemperature Mode = "temperature"
	ModeTopP        Mode = "top_p"
)

// Completion models the bot may be switched between.
const (
	ModelDavinci  = "text-davinci-003"
	ModelCurie    = "text-curie-001"
	ModelInstruct = "gpt-3.5-turbo-instruct"
)

const (
	defaultMaxTokens       = 4000
	lowUsageMaxTokens      = 1900
	defaultPromptMinLen    = 25
	defaultMaxConvLength   = 5
	maxBestOf              = 3
	maxMaxConvLength       = 100
	maxPromptMinLength     = 4096
	minMaxTokens           = 15
	maxMaxTokens           = 4096
	minPenalty, maxPenalty = -2.0, 2.0
)

// pricePer1K is the USD price of 1000 tokens per model.
var pricePer1K = map[string]float64{
	ModelDavinci:  0.02,
	ModelCurie:    0.002,
	ModelInstruct: 0.002,
}

// Values is an immutable snapshot of the model settings.
type Values struct {
	Mode                  Mode
	Temp                  float64
	TopP                  float64
	MaxTokens             int
	PresencePenalty       float64
	FrequencyPenalty      float64
	BestOf                int
	PromptMinLength       int
	MaxConversationLength int
	Model                 string
	LowUsageMode          bool
}

// Defaults returns the settings a fresh bot starts with.
func Defaults() Values {
	return Values{
		Mode:                  ModeTemperature,
		Temp:                  0.6,
		TopP:                  1,
		MaxTokens:             defaultMaxTokens,
		BestOf:                1,
		PromptMinLength:       defaultPromptMinLen,
		MaxConversationLength: defaultMaxConvLength,
		Model:                 ModelDavinci,
	}
}

// PricePer1K returns the USD price of 1000 tokens for model. Unknown models
// are priced like davinci.
func PricePer1K(model string) float64 {
	if p, ok := pricePer1K[model]; ok {
		return p
	}
	return pricePer1K[ModelDavinci]
}

// Settings holds the mutable model parameters shared by every conversation.
// It is safe for concurrent use.
type Settings struct {
	mu sync.RWMutex
	v  Values
}

// New returns Settings initialised from v.
func New(v Values) *Settings {
	return &Settings{v: v}
}

// Snapshot returns a copy of the current values.
func (s *Settings) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

func (s *Settings) update(fn func(v *Values) error) (Values, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.v
	if err := fn(&next); err != nil {
		return s.v, err
	}
	s.v = next
	return next, nil
}

// SetMode switches the sampling mode and applies its temp/top_p preset.
func (s *Settings) SetMode(m Mode) (Values, error) {
	return s.update(func(v *Values) error {
		switch m {
		case ModeTemperature:
			v.Temp, v.TopP = 0.6, 1
		case ModeTopP:
			v.Temp, v.TopP = 1, 0.9
		default:
			return invalid("mode", fmt.Sprintf("mode must be one of %s or %s, it is currently %s", ModeTemperature, ModeTopP, m))
		}
		v.Mode = m
		return nil
	})
}

func (s *Settings) SetTemp(t float64) (Values, error) {
	return s.update(func(v *Values) error {
		if t <= 0 || t > 1 {
			return invalid("temp", fmt.Sprintf("temperature must be greater than 0 and less than 1, it is currently %s", formatFloat(t)))
		}
		v.Temp = t
		return nil
	})
}

func (s *Settings) SetTopP(p float64) (Values, error) {
	return s.update(func(v *Values) error {
		if p <= 0 || p > 1 {
			return invalid("top_p", fmt.Sprintf("top_p must be greater than 0 and at most 1, it is currently %s", formatFloat(p)))
		}
		v.TopP = p
		return nil
	})
}

func (s *Settings) SetMaxTokens(n int) (Values, error) {
	return s.update(func(v *Values) error {
		if n < minMaxTokens || n > maxMaxTokens {
			return invalid("max_tokens", fmt.Sprintf("max_tokens must be between %d and %d, it is currently %d", minMaxTokens, maxMaxTokens, n))
		}
		v.MaxTokens = n
		return nil
	})
}

func (s *Settings) SetPresencePenalty(p float64) (Values, error) {
	return s.update(func(v *Values) error {
		if p < minPenalty || p > maxPenalty {
			return invalid("presence_penalty", fmt.Sprintf("presence_penalty must be between -2 and 2, it is currently %s", formatFloat(p)))
		}
		v.PresencePenalty = p
		return nil
	})
}

func (s *Settings) SetFrequencyPenalty(p float64) (Values, error) {
	return s.update(func(v *Values) error {
		if p < minPenalty || p > maxPenalty {
			return invalid("frequency_penalty", fmt.Sprintf("frequency_penalty must be between -2 and 2, it is currently %s", formatFloat(p)))
		}
		v.FrequencyPenalty = p
		return nil
	})
}

func (s *Settings) SetBestOf(n int) (Values, error) {
	return s.update(func(v *Values) error {
		if n < 1 || n > maxBestOf {
			return invalid("best_of", fmt.Sprintf("best_of must be between 1 and %d, it is currently %d", maxBestOf, n))
		}
		v.BestOf = n
		return nil
	})
}

func (s *Settings) SetPromptMinLength(n int) (Values, error) {
	return s.update(func(v *Values) error {
		if n < 1 || n > maxPromptMinLength {
			return invalid("prompt_min_length", fmt.Sprintf("prompt_min_length must be between 1 and %d, it is currently %d", maxPromptMinLength, n))
		}
		v.PromptMinLength = n
		return nil
	})
}

func (s *Settings) SetMaxConversationLength(n int) (Values, error) {
	return s.update(func(v *Values) error {
		if n < 1 || n > maxMaxConvLength {
			return invalid("max_conversation_length", fmt.Sprintf("max_conversation_length must be between 1 and %d, it is currently %d", maxMaxConvLength, n))
		}
		v.MaxConversationLength = n
		return nil
	})
}

func (s *Settings) SetModel(model string) (Values, error) {
	return s.update(func(v *Values) error {
		if _, ok := pricePer1K[model]; !ok {
			return invalid("model", fmt.Sprintf("model must be one of %s, it is currently %s", strings.Join(knownModels(), ", "), model))
		}
		v.Model = model
		return nil
	})
}

// SetLowUsageMode toggles the cheaper model with a lower token ceiling.
func (s *Settings) SetLowUsageMode(on bool) (Values, error) {
	return s.update(func(v *Values) error {
		v.LowUsageMode = on
		if on {
			v.Model = ModelCurie
			v.MaxTokens = lowUsageMaxTokens
		} else {
			v.Model = ModelDavinci
			v.MaxTokens = defaultMaxTokens
		}
		return nil
	})
}

// Set parses raw and assigns it to the setting called name.
func (s *Settings) Set(name, raw string) (Values, error) {
	raw = strings.TrimSpace(raw)
	switch name {
	case "mode":
		return s.SetMode(Mode(strings.ToLower(raw)))
	case "temp":
		f, err := parseFloat(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetTemp(f)
	case "top_p":
		f, err := parseFloat(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetTopP(f)
	case "max_tokens":
		n, err := parseInt(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetMaxTokens(n)
	case "presence_penalty":
		f, err := parseFloat(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetPresencePenalty(f)
	case "frequency_penalty":
		f, err := parseFloat(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetFrequencyPenalty(f)
	case "best_of":
		n, err := parseInt(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetBestOf(n)
	case "prompt_min_length":
		n, err := parseInt(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetPromptMinLength(n)
	case "max_conversation_length":
		n, err := parseInt(name, raw)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetMaxConversationLength(n)
	case "model":
		return s.SetModel(raw)
	case "low_usage_mode":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return s.Snapshot(), invalid(name, fmt.Sprintf("%s must be true or false, it is currently %s", name, raw))
		}
		return s.SetLowUsageMode(b)
	default:
		return s.Snapshot(), invalid(name, "The parameter is not a valid parameter")
	}
}

// IsField reports whether name is a mutable setting.
func IsField(name string) bool {
	for _, f := range fieldNames {
		if f == name {
			return true
		}
	}
	return false
}

var fieldNames = []string{
	"mode",
	"temp",
	"top_p",
	"max_tokens",
	"presence_penalty",
	"frequency_penalty",
	"best_of",
	"prompt_min_length",
	"max_conversation_length",
	"model",
	"low_usage_mode",
}

// Pairs returns every setting as name/value strings in a stable order.
func (v Values) Pairs() [][2]string {
	return [][2]string{
		{"mode", string(v.Mode)},
		{"temp", formatFloat(v.Temp)},
		{"top_p", formatFloat(v.TopP)},
		{"max_tokens", strconv.Itoa(v.MaxTokens)},
		{"presence_penalty", formatFloat(v.PresencePenalty)},
		{"frequency_penalty", formatFloat(v.FrequencyPenalty)},
		{"best_of", strconv.Itoa(v.BestOf)},
		{"prompt_min_length", strconv.Itoa(v.PromptMinLength)},
		{"max_conversation_length", strconv.Itoa(v.MaxConversationLength)},
		{"model", v.Model},
		{"low_usage_mode", strconv.FormatBool(v.LowUsageMode)},
	}
}

func knownModels() []string {
	out := make([]string, 0, len(pricePer1K))
	for m := range pricePer1K {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func parseFloat(name, raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid(name, fmt.Sprintf("%s must be a number, it is currently %s", name, raw))
	}
	return f, nil
}

func parseInt(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(name, fmt.Sprintf("%s must be an integer, it is currently %s", name, raw))
	}
	return n, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
