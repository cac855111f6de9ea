package admission

// createRoomRequest is the body of POST /api/rooms/create.
type createRoomRequest struct {
	FileHash      string     `json:"file_hash"`
	DurationMs    int64      `json:"duration_ms"`
	FileSize      int64      `json:"file_size"`
	Codec         codecInput `json:"codec"`
	ExpiresInDays int        `json:"expires_in_days"`
	Passcode      string     `json:"passcode,omitempty"`
}

type codecInput struct {
	Video      string `json:"video"`
	Audio      string `json:"audio"`
	Resolution string `json:"resolution,omitempty"`
}

type createRoomResponse struct {
	RoomID    string `json:"roomId"`
	ShareURL  string `json:"shareUrl"`
	ExpiresAt string `json:"expiresAt"`
}

// validateRequest is the body of POST /api/rooms/:id/validate.
type validateRequest struct {
	FileHash string `json:"file_hash,omitempty"`
	Passcode string `json:"passcode,omitempty"`
}

type validateResponse struct {
	RoomID             string     `json:"roomId"`
	HostUserID         string     `json:"hostUserId"`
	HostFileHash       string     `json:"hostFileHash"`
	HostFileDurationMs int64      `json:"hostFileDurationMs"`
	HostFileSize       int64      `json:"hostFileSize"`
	Codec              codecInput `json:"codec"`
	HashMatches        bool       `json:"hashMatches"`
	RequiresPasscode   bool       `json:"requiresPasscode"`
}

type roomDetailsResponse struct {
	RoomID           string            `json:"roomId"`
	IsActive         bool              `json:"isActive"`
	HostUserID       string            `json:"hostUserId"`
	CreatedAt        string            `json:"createdAt"`
	ExpiresAt        string            `json:"expiresAt"`
	RequiresPasscode bool              `json:"requiresPasscode"`
	Participants     []participantView `json:"participants"`
}

type participantView struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	IsConnected bool   `json:"isConnected"`
}

type probeResponse struct {
	IsActive bool `json:"is_active"`
}

type closeResponse struct {
	Message string `json:"message"`
}

type leaveTemporaryResponse struct {
	Success bool `json:"success"`
	Paused  bool `json:"paused"`
}

// rejoinResponse's VideoID aliases the host file hash as an opaque
// identifier for the durable projection's existing field name.
type rejoinResponse struct {
	RoomID          string            `json:"roomId"`
	VideoID         string            `json:"videoId"`
	PlaybackState   string            `json:"playbackState"`
	CurrentPosition float64           `json:"currentPosition"`
	Participants    []participantView `json:"participants"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}
