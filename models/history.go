package models

import (
	"context"
	"fmt"

	"time"

	"github.com/ecofhq/portal_backend/utils"
	"gorm.io/gorm"
)

// History is an append-only audit row. The integration workers write
// TRANSITION rows so lifecycle changes stay visible without process logs.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	OrgId         string    `gorm:"index;not null" json:"org_id"`
	ActionType    string    `gorm:"size:20;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:255" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewHistory struct {
	OrgId         string `json:"org_id"`
	ActionType    string `json:"action_type"`
	Before        string `json:"before"`
	After         string `json:"after"`
	Description   string `json:"description"`
	ReferenceID   int    `json:"reference_id"`
	ReferenceType string `json:"reference_type"`
	UserId        int    `json:"user_id"`
	UserName      string `json:"user_name"`
}

func CreateHistory(tx *gorm.DB, ctx context.Context, input *NewHistory) error {
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		userName = "System"
	}

	history := History{
		OrgId:         input.OrgId,
		ActionType:    input.ActionType,
		Before:        input.Before,
		After:         input.After,
		Description:   input.Description,
		ReferenceID:   input.ReferenceID,
		ReferenceType: input.ReferenceType,
		UserId:        userId,
		UserName:      userName,
	}
	return tx.WithContext(ctx).Create(&history).Error
}

func describeStatusTransition(docType DocumentType, from DocumentStatus, to DocumentStatus) string {
	return fmt.Sprintf("%s moved from %s to %s.", docType, from, to)
}
