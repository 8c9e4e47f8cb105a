// Package intent implements the keyword-based intent classifier. Keyword
// matching is intentionally cheap and explainable; a full intent model is
// unnecessary for these narrow binary decisions and would add latency to
// every turn.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// Tables holds the keyword set for each detectable intent. The JSON shape
// matches the SSM parameter that overrides the compiled-in defaults, so
// keyword sets can change without a code change.
type Tables struct {
	StudyPlan []string `json:"study_plan"`
	Room      []string `json:"room"`
	Image     []string `json:"image"`
}

// Defaults returns the compiled-in keyword tables.
func Defaults() Tables {
	return Tables{
		StudyPlan: []string{
			"plan de estudio",
			"plan estudios",
			"pensum",
			"malla curricular",
			"materias",
			"asignaturas",
			"semestres",
		},
		Room: []string{
			"habitación",
			"habitaciones",
			"cuarto",
			"cuartos",
			"alojamiento",
			"hospedaje",
		},
		Image: []string{
			"imagen",
			"imágenes",
			"foto",
			"fotos",
			"galería",
		},
	}
}

// ParamGetter fetches a named configuration parameter.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Classifier matches message text against per-intent keyword tables.
// Deterministic, stateless after construction, no I/O at classify time.
type Classifier struct {
	tables Tables
}

// New creates a Classifier. Empty keyword sets fall back to the defaults
// so a partial override cannot disable an intent by accident.
func New(t Tables) *Classifier {
	def := Defaults()
	if len(t.StudyPlan) == 0 {
		t.StudyPlan = def.StudyPlan
	}
	if len(t.Room) == 0 {
		t.Room = def.Room
	}
	if len(t.Image) == 0 {
		t.Image = def.Image
	}
	lower := func(ss []string) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	return &Classifier{tables: Tables{
		StudyPlan: lower(t.StudyPlan),
		Room:      lower(t.Room),
		Image:     lower(t.Image),
	}}
}

// FromParams builds a Classifier from the keyword tables stored under the
// given parameter name. A missing or malformed parameter falls back to the
// defaults; classification must never be blocked by configuration.
func FromParams(ctx context.Context, params ParamGetter, name string) *Classifier {
	raw, err := params.GetParameter(ctx, name)
	if err != nil {
		slog.Warn("intent keyword tables unavailable, using defaults", "param", name, "err", err)
		return New(Defaults())
	}
	var t Tables
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		slog.Warn("intent keyword tables malformed, using defaults", "param", name, "err", err)
		return New(Defaults())
	}
	return New(t)
}

// DetectStudyPlanRequest reports whether the message asks for a study plan.
func (c *Classifier) DetectStudyPlanRequest(text string) bool {
	return c.matches(c.tables.StudyPlan, text)
}

// DetectRoomQuery reports whether the message asks about rooms or lodging.
func (c *Classifier) DetectRoomQuery(text string) bool {
	return c.matches(c.tables.Room, text)
}

// DetectImageQuery reports whether the message asks for images.
func (c *Classifier) DetectImageQuery(text string) bool {
	return c.matches(c.tables.Image, text)
}

func (c *Classifier) matches(keywords []string, text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
