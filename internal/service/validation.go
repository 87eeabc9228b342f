package service

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/models"
)

// Validator checks caller input before it reaches the registry
type Validator struct {
	validate *validator.Validate
	cfg      config.RoomsConfig
}

// NewValidator creates a validator for the given room limits
func NewValidator(cfg config.RoomsConfig) *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
	}
}

// NormalizeName trims a display name and checks its length
func (v *Validator) NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	tag := fmt.Sprintf("required,min=%d,max=%d", v.cfg.MinNameLength, v.cfg.MaxNameLength)
	if err := v.validate.Var(name, tag); err != nil {
		return "", fmt.Errorf("%w: name must be between %d and %d characters",
			models.ErrInvalidInput, v.cfg.MinNameLength, v.cfg.MaxNameLength)
	}
	return name, nil
}

// NormalizeCode upper-cases a room code and checks its shape
func (v *Validator) NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	tag := fmt.Sprintf("required,len=%d,alphanum", v.cfg.CodeLength)
	if err := v.validate.Var(code, tag); err != nil {
		return "", fmt.Errorf("%w: room code must be %d letters or digits",
			models.ErrInvalidInput, v.cfg.CodeLength)
	}
	return code, nil
}

// ValidateRoomConfig checks the optional settings of a create or update request
func (v *Validator) ValidateRoomConfig(cfg models.RoomConfig) error {
	if cfg.MaxMembers == nil {
		return nil
	}
	tag := fmt.Sprintf("min=%d,max=%d", v.cfg.MinMembers, v.cfg.MaxMembersLimit)
	if err := v.validate.Var(*cfg.MaxMembers, tag); err != nil {
		return fmt.Errorf("%w: max members must be between %d and %d",
			models.ErrInvalidInput, v.cfg.MinMembers, v.cfg.MaxMembersLimit)
	}
	return nil
}

// ValidateID checks that an identifier is present and printable ASCII
func (v *Validator) ValidateID(field, id string) error {
	if err := v.validate.Var(id, "required,max=128,printascii"); err != nil {
		return fmt.Errorf("%w: %s must be 1 to 128 printable ASCII characters", models.ErrInvalidInput, field)
	}
	return nil
}
