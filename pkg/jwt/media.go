package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"callsignal-backend/pkg/constants"
)

// DefaultMediaTokenTTL outlives a typical call so clients never re-authenticate mid-call
const DefaultMediaTokenTTL = constants.MediaTokenExpiry

// MediaGrant is the capability set of a media-session token. The JSON layout
// follows the "video" grant understood by LiveKit-compatible media servers.
type MediaGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

// ParticipantGrant is the full grant given to every call participant:
// join-room, publish, subscribe and publish-data
func ParticipantGrant(room string) MediaGrant {
	return MediaGrant{
		Room:           room,
		RoomJoin:       true,
		CanPublish:     true,
		CanSubscribe:   true,
		CanPublishData: true,
	}
}

// MediaClaims are the claims of a media-session token
type MediaClaims struct {
	Name  string     `json:"name,omitempty"`
	Video MediaGrant `json:"video"`
	jwt.RegisteredClaims
}

// MediaTokenIssuer mints room-scoped tokens for the external media service
type MediaTokenIssuer struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// NewMediaTokenIssuer creates an issuer signing with the media service API key pair
func NewMediaTokenIssuer(apiKey, apiSecret string) (*MediaTokenIssuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("media api key and secret are required")
	}
	return &MediaTokenIssuer{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}, nil
}

// Mint signs a token for identity with the given grant. It has no side effects.
func (i *MediaTokenIssuer) Mint(identity, displayName string, grant MediaGrant, ttl time.Duration) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("identity is required")
	}
	if grant.Room == "" {
		return "", fmt.Errorf("room is required")
	}
	if ttl <= 0 {
		ttl = DefaultMediaTokenTTL
	}

	now := i.now()
	claims := &MediaClaims{
		Name:  displayName,
		Video: grant,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			ID:        uuid.New().String(),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.apiSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign media token: %w", err)
	}
	return signed, nil
}

// Parse verifies a media token signed by this issuer
func (i *MediaTokenIssuer) Parse(tokenString string) (*MediaClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &MediaClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.apiSecret), nil
	},
		jwt.WithIssuer(i.apiKey),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse media token: %w", err)
	}

	claims, ok := token.Claims.(*MediaClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid media token")
	}
	return claims, nil
}
