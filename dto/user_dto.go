package dto

type UpdateProfileDTO struct {
	Name *string `json:"name" binding:"omitempty,max=100"`
}

type SetBlockedDTO struct {
	Blocked *bool `json:"blocked" binding:"required"`
}
