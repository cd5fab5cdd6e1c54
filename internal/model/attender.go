package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AttenderKind tags which side of an Attender is set.
type AttenderKind int

const (
	AttenderUser AttenderKind = iota + 1
	AttenderTeam
)

func (k AttenderKind) String() string {
	switch k {
	case AttenderUser:
		return "user"
	case AttenderTeam:
		return "team"
	default:
		return "unknown"
	}
}

// Attender is either a user or a team. Exactly one of UserID and TeamCode
// is meaningful, selected by Kind.
type Attender struct {
	Kind     AttenderKind
	UserID   int64
	TeamCode string
}

// UserAttender returns an attender for the user with id.
func UserAttender(id int64) Attender {
	return Attender{Kind: AttenderUser, UserID: id}
}

// TeamAttender returns an attender for the team with code.
func TeamAttender(code string) Attender {
	return Attender{Kind: AttenderTeam, TeamCode: code}
}

// IsUser reports whether the attender is a user.
func (a Attender) IsUser() bool { return a.Kind == AttenderUser }

// IsTeam reports whether the attender is a team.
func (a Attender) IsTeam() bool { return a.Kind == AttenderTeam }

// String renders the attender as "user:12" or "team:ABC".
func (a Attender) String() string {
	switch a.Kind {
	case AttenderUser:
		return "user:" + strconv.FormatInt(a.UserID, 10)
	case AttenderTeam:
		return "team:" + a.TeamCode
	default:
		return "unknown"
	}
}

type attenderJSON struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id,omitempty"`
	TeamCode string `json:"team_code,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a Attender) MarshalJSON() ([]byte, error) {
	return json.Marshal(attenderJSON{Type: a.Kind.String(), UserID: a.UserID, TeamCode: a.TeamCode})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Attender) UnmarshalJSON(b []byte) error {
	var v attenderJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v.Type {
	case "user":
		*a = UserAttender(v.UserID)
	case "team":
		*a = TeamAttender(v.TeamCode)
	default:
		return fmt.Errorf("unknown attender type %q", v.Type)
	}
	return nil
}

// AttenderRef is an unresolved attender reference as sent by clients.
// Only an e5code needs a lookup before it becomes an Attender.
type AttenderRef struct {
	Attender
	E5Code string
}

// ErrEmptyAttender is returned by ParseAttender for blank input.
var ErrEmptyAttender = errors.New("attender is required")

// ParseAttender reads a raw attender reference: all digits is a user id,
// a 13 character string is an e5code and anything else is a team code.
func ParseAttender(raw string) (AttenderRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AttenderRef{}, ErrEmptyAttender
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return AttenderRef{Attender: UserAttender(id)}, nil
	}
	if len(raw) == E5CodeLength {
		return AttenderRef{E5Code: strings.ToUpper(raw)}, nil
	}
	return AttenderRef{Attender: TeamAttender(raw)}, nil
}

// IsTeamCode reports whether code would be read back by ParseAttender as a
// team. All-digit codes and codes of E5CodeLength are taken by users.
func IsTeamCode(code string) bool {
	ref, err := ParseAttender(code)
	return err == nil && ref.E5Code == "" && ref.Attender.IsTeam()
}
