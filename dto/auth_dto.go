package dto

type RegisterDTO struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginDTO struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshDTO is optional; the refresh cookie is used when it is absent.
type RefreshDTO struct {
	RefreshToken string `json:"refreshToken"`
}

type SocialLoginDTO struct {
	IDToken string `json:"idToken" binding:"required"`
}

type VerifyOTPDTO struct {
	OTP string `json:"otp" binding:"required,len=6,numeric"`
}
