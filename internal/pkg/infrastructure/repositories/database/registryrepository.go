package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrStaffNotFound = fmt.Errorf("no active staff member with that code")
var ErrResidentNotFound = fmt.Errorf("resident not found")

// RegistryRepository owns the reference entities mutated by administration
// tooling. The scanner only ever reads them.
type RegistryRepository interface {
	GetResidents(ctx context.Context) ([]Resident, error)
	GetResidentByID(ctx context.Context, residentID uint) (Resident, error)
	AddResident(ctx context.Context, resident Resident) (uint, error)

	GetStaff(ctx context.Context) ([]Staff, error)
	GetStaffByCode(ctx context.Context, code string) (Staff, error)
	AddStaff(ctx context.Context, staff Staff) (uint, error)
	SetStaffActive(ctx context.Context, staffID uint, active bool) error
}

type registryRepository struct {
	db *gorm.DB
}

func NewRegistryRepository(connect ConnectorFunc) (RegistryRepository, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Resident{}, &Staff{})
	if err != nil {
		return nil, err
	}

	return &registryRepository{db: impl}, nil
}

func (r *registryRepository) GetResidents(ctx context.Context) ([]Resident, error) {
	residents := []Resident{}

	err := r.db.WithContext(ctx).Order("room").Find(&residents).Error
	if err != nil {
		return nil, err
	}

	return residents, nil
}

func (r *registryRepository) GetResidentByID(ctx context.Context, residentID uint) (Resident, error) {
	resident := Resident{}

	err := r.db.WithContext(ctx).First(&resident, residentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Resident{}, ErrResidentNotFound
		}
		return Resident{}, err
	}

	return resident, nil
}

func (r *registryRepository) AddResident(ctx context.Context, resident Resident) (uint, error) {
	err := r.db.WithContext(ctx).Create(&resident).Error
	if err != nil {
		return 0, err
	}

	return resident.ID, nil
}

func (r *registryRepository) GetStaff(ctx context.Context) ([]Staff, error) {
	staff := []Staff{}

	err := r.db.WithContext(ctx).Order("name").Find(&staff).Error
	if err != nil {
		return nil, err
	}

	return staff, nil
}

// GetStaffByCode requires an exact match on an active staff member's code.
// No partial matches.
func (r *registryRepository) GetStaffByCode(ctx context.Context, code string) (Staff, error) {
	staff := Staff{}

	err := r.db.WithContext(ctx).
		Where("code = ? AND active = ?", code, true).
		First(&staff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Staff{}, ErrStaffNotFound
		}
		return Staff{}, err
	}

	return staff, nil
}

func (r *registryRepository) AddStaff(ctx context.Context, staff Staff) (uint, error) {
	err := r.db.WithContext(ctx).Create(&staff).Error
	if err != nil {
		return 0, err
	}

	return staff.ID, nil
}

func (r *registryRepository) SetStaffActive(ctx context.Context, staffID uint, active bool) error {
	result := r.db.WithContext(ctx).Model(&Staff{}).Where("id = ?", staffID).Update("active", active)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("staff member %d not found", staffID)
	}

	return nil
}
