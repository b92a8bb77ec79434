package auth

// HttpResp represents the standard HTTP response structure.
type HttpResp struct {
	Status  string      `json:"status" example:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message" example:"Operation completed successfully"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// StatusResponse defines the structure of the /auth/status response.
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	Message       string `json:"message,omitempty"`
}
