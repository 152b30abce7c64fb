package services

import (
	"strings"

	app_errors "vigil/internal/errors"
	"vigil/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory maintains the holder contact read-model: the email used to match
// meeting participants and the messaging recipient ID used for notifications.
type Directory struct {
	db *gorm.DB
}

// NewDirectory creates the directory.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Upsert creates or updates the contact row for a holder.
func (d *Directory) Upsert(contact *models.HolderContact) error {
	if contact.HolderID == "" || contact.Email == "" {
		return app_errors.NewValidationError("holder_id and email are required")
	}
	contact.Email = strings.ToLower(strings.TrimSpace(contact.Email))

	err := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "holder_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "recipient", "display_name", "updated_at"}),
	}).Create(contact).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	return nil
}

// Get returns the contact row for a holder.
func (d *Directory) Get(holderID string) (*models.HolderContact, error) {
	var contact models.HolderContact
	if err := d.db.Where("holder_id = ?", holderID).First(&contact).Error; err != nil {
		return nil, app_errors.ParseDBError(err)
	}
	return &contact, nil
}

// List returns every registered holder contact, ordered by holder ID.
func (d *Directory) List() ([]models.HolderContact, error) {
	var contacts []models.HolderContact
	if err := d.db.Order("holder_id").Find(&contacts).Error; err != nil {
		return nil, app_errors.ParseDBError(err)
	}
	return contacts, nil
}

// GetByRecipient resolves a messaging recipient ID back to a holder contact.
func (d *Directory) GetByRecipient(recipient string) (*models.HolderContact, error) {
	var contact models.HolderContact
	if err := d.db.Where("recipient = ?", recipient).First(&contact).Error; err != nil {
		return nil, app_errors.ParseDBError(err)
	}
	return &contact, nil
}
