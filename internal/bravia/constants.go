package bravia

import "time"

// API Endpoints for Sony Bravia Control
const (
	SystemEndpoint BraviaEndpoint = "/sony/system"
	VideoEndpoint  BraviaEndpoint = "/sony/video"
)

// API Methods for Sony Bravia Control
const (
	GetPowerStatus            BraviaMethod = "getPowerStatus"
	SetPowerStatus            BraviaMethod = "setPowerStatus"
	GetPictureQualitySettings BraviaMethod = "getPictureQualitySettings"
	SetPictureQualitySettings BraviaMethod = "setPictureQualitySettings"
)

const (
	// RequestID is sent with every call; the display echoes it back
	RequestID = 50
	// APIVersion of every method used here
	APIVersion = "1.0"

	BrightnessTarget = "brightness"

	DefaultPort    = 443
	DefaultTimeout = 10 * time.Second

	authHeader = "X-Auth-PSK"
)
