package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"levelkit/core"
	"levelkit/engine"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type awardBody struct {
	Amount int64  `json:"amount" validate:"gte=0"`
	Actor  string `json:"actor_id" validate:"required,max=64"`
}

type reclaimBody struct {
	All    bool   `json:"all"`
	Amount *int64 `json:"amount" validate:"required_without=All,omitempty,gt=0"`
	Actor  string `json:"actor_id" validate:"required,max=64"`
}

func (b reclaimBody) option() (core.ReclaimOption, error) {
	if b.All && b.Amount != nil {
		return nil, core.InvalidArgumentf("set either all or amount, not both")
	}
	if b.All {
		return core.ReclaimAll{}, nil
	}
	return core.ReclaimAmount{N: *b.Amount}, nil
}

type activityBody struct {
	HeldRoles []string `json:"held_role_ids" validate:"dive,required,max=64"`
	Channel   *string  `json:"channel_id" validate:"omitempty,max=64"`
}

func (b activityBody) query(m core.MemberKey) engine.ExemptionQuery {
	roles := make([]core.RoleID, 0, len(b.HeldRoles))
	for _, r := range b.HeldRoles {
		roles = append(roles, core.RoleID(r))
	}
	q := engine.ExemptionQuery{Member: m, HeldRoles: roles}
	if b.Channel != nil {
		ch := core.ChannelID(*b.Channel)
		q.Channel = &ch
	}
	return q
}

type exemptionBody struct {
	Exempt *bool `json:"exempt" validate:"required"`
}

type rewardBody struct {
	Level   int64   `json:"level" validate:"gte=1"`
	Message *string `json:"message" validate:"omitempty,max=2000"`
}

type curveBody struct {
	Base     int64 `json:"base" validate:"gte=0"`
	Modifier int64 `json:"modifier" validate:"gte=0"`
	Amount   int64 `json:"amount" validate:"gte=0"`
}

type logChannelBody struct {
	Channel *string `json:"channel_id" validate:"omitempty,max=64"`
}

const maxBodyBytes = 1 << 16

// decode reads a JSON body into dst and validates it. Failures come back as
// core invalid-argument errors so they map to 400.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return core.InvalidArgumentf("invalid JSON body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return core.InvalidArgumentf("%s", strings.Join(msgs, "; "))
		}
		return core.InvalidArgumentf("%v", err)
	}
	return nil
}
