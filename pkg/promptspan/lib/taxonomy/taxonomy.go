// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package taxonomy defines the closed, hierarchical set of span roles used to
// label video-generation prompts. A role is either a parent category
// ("camera") or a parent qualified by an attribute ("camera.movement").
//
// Every other package resolves category names through this package; none of
// them carries its own list.
package taxonomy

import (
	"slices"
	"strings"
)

// Role identifies a span category.
type Role string

// Parent categories.
const (
	Shot        Role = "shot"
	Subject     Role = "subject"
	Action      Role = "action"
	Environment Role = "environment"
	Lighting    Role = "lighting"
	Camera      Role = "camera"
	Style       Role = "style"
	Technical   Role = "technical"
	Audio       Role = "audio"
)

// Attribute-qualified roles.
const (
	ShotType Role = "shot.type"

	SubjectIdentity   Role = "subject.identity"
	SubjectAppearance Role = "subject.appearance"
	SubjectWardrobe   Role = "subject.wardrobe"
	SubjectEmotion    Role = "subject.emotion"

	ActionMovement Role = "action.movement"
	ActionState    Role = "action.state"
	ActionGesture  Role = "action.gesture"

	EnvironmentLocation Role = "environment.location"
	EnvironmentWeather  Role = "environment.weather"
	EnvironmentContext  Role = "environment.context"

	LightingSource    Role = "lighting.source"
	LightingQuality   Role = "lighting.quality"
	LightingTimeOfDay Role = "lighting.timeOfDay"
	LightingColorTemp Role = "lighting.colorTemp"

	CameraMovement Role = "camera.movement"
	CameraLens     Role = "camera.lens"
	CameraAngle    Role = "camera.angle"
	CameraFocus    Role = "camera.focus"

	StyleAesthetic  Role = "style.aesthetic"
	StyleFilmStock  Role = "style.filmStock"
	StyleColorGrade Role = "style.colorGrade"

	TechnicalAspectRatio Role = "technical.aspectRatio"
	TechnicalFrameRate   Role = "technical.frameRate"
	TechnicalResolution  Role = "technical.resolution"
	TechnicalDuration    Role = "technical.duration"

	AudioScore       Role = "audio.score"
	AudioSoundEffect Role = "audio.soundEffect"
)

// hierarchy maps each parent to its attributes, in display order.
var hierarchy = []struct {
	parent     Role
	attributes []Role
}{
	{Shot, []Role{ShotType}},
	{Subject, []Role{SubjectIdentity, SubjectAppearance, SubjectWardrobe, SubjectEmotion}},
	{Action, []Role{ActionMovement, ActionState, ActionGesture}},
	{Environment, []Role{EnvironmentLocation, EnvironmentWeather, EnvironmentContext}},
	{Lighting, []Role{LightingSource, LightingQuality, LightingTimeOfDay, LightingColorTemp}},
	{Camera, []Role{CameraMovement, CameraLens, CameraAngle, CameraFocus}},
	{Style, []Role{StyleAesthetic, StyleFilmStock, StyleColorGrade}},
	{Technical, []Role{TechnicalAspectRatio, TechnicalFrameRate, TechnicalResolution, TechnicalDuration}},
	{Audio, []Role{AudioScore, AudioSoundEffect}},
}

var (
	all     []Role
	parents []Role
	valid   = map[Role]struct{}{}
	// folded maps a lower-cased, separator-free spelling to its canonical role.
	folded = map[string]Role{}
)

func init() {
	for _, h := range hierarchy {
		parents = append(parents, h.parent)
		all = append(all, h.parent)
		valid[h.parent] = struct{}{}
		folded[foldKey(string(h.parent))] = h.parent
		for _, a := range h.attributes {
			all = append(all, a)
			valid[a] = struct{}{}
			folded[foldKey(string(a))] = a
		}
	}
}

// All returns every valid role, parents first within each group.
func All() []Role {
	return slices.Clone(all)
}

// Parents returns the top-level categories.
func Parents() []Role {
	return slices.Clone(parents)
}

// Valid reports whether r is a member of the taxonomy.
func Valid(r Role) bool {
	_, ok := valid[r]
	return ok
}

// Parent returns the top-level category of r.
func (r Role) Parent() Role {
	if i := strings.IndexByte(string(r), '.'); i >= 0 {
		return r[:i]
	}
	return r
}

// Attribute returns the attribute part of r, or "" for a bare parent.
func (r Role) Attribute() string {
	if i := strings.IndexByte(string(r), '.'); i >= 0 {
		return string(r[i+1:])
	}
	return ""
}

// Depth is the number of dot-separated segments; it is the role's specificity.
func (r Role) Depth() int {
	if r == "" {
		return 0
	}
	return len(strings.Split(string(r), "."))
}

// IsTechnical reports whether r sits under the technical branch.
func (r Role) IsTechnical() bool {
	return r.Parent() == Technical
}

// IsFilmStock reports whether r names a film-stock or technical category,
// which are exempt from the artist-reference filter.
func (r Role) IsFilmStock() bool {
	return r == StyleFilmStock || r.IsTechnical()
}

func (r Role) String() string {
	return string(r)
}

// Parse resolves loosely formatted role names ("Camera Movement",
// "camera_movement", "camera:movement", "CAMERA.MOVEMENT") to a canonical
// role. Unknown names return false.
func Parse(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if r := Role(s); Valid(r) {
		return r, true
	}

	parent, attr, qualified := splitQualified(s)
	if !qualified {
		r, ok := folded[foldKey(s)]
		return r, ok
	}
	p, ok := folded[foldKey(parent)]
	if !ok || p.Depth() != 1 {
		return "", false
	}
	if r, ok := folded[foldKey(string(p)+attr)]; ok && r.Parent() == p {
		return r, true
	}
	return "", false
}

// ParseParent resolves just the parent part of s, so that a role with an
// unknown attribute can fall back to its parent category.
func ParseParent(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	parent, _, qualified := splitQualified(s)
	if !qualified {
		parent = s
	}
	r, ok := folded[foldKey(parent)]
	if !ok || r.Depth() != 1 {
		return "", false
	}
	return r, true
}

func splitQualified(s string) (parent, attr string, ok bool) {
	if i := strings.IndexAny(s, ".:/"); i >= 0 {
		return s[:i], s[i+1:], true
	}
	// "camera_movement" / "camera movement" / "camera-movement"
	if i := strings.IndexAny(s, "_ -"); i >= 0 {
		if _, isParent := folded[foldKey(s[:i])]; isParent {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func foldKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range strings.ToLower(s) {
		switch c {
		case '.', '_', '-', ' ', ':', '/':
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
