package service

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// service configuration struct
// --------------------------------------------------------------------------

// StoreBackend selects the document store implementation.
type StoreBackend string

const (
	StoreBackendMongo  StoreBackend = "mongo"
	StoreBackendMemory StoreBackend = "memory"
)

// Config holds all configuration parameters for the persistence service.
type Config struct {
	// Realm is the first topic token all subscriptions and publishes
	// are scoped to.
	Realm string

	// MQTT connection parameters
	MQTTURI      string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// StatusTopic, when set, receives a short announcement after the
	// service connects.
	StatusTopic string

	// Store parameters
	StoreBackend StoreBackend
	MongoURI     string
	MongoDB      string

	// HTTP api settings
	HTTPEndpoint     string
	JWTPublicKeyFile string

	// Timing
	SweepInterval  time.Duration
	ResyncInterval time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Message bus settings
	addSection("Message Bus")
	addField("Realm", c.Realm)
	addField("Broker URI", c.MQTTURI)
	addField("Client ID", c.MQTTClientID)
	if c.MQTTUsername != "" {
		addField("Username", c.MQTTUsername)
	}
	if c.StatusTopic != "" {
		addField("Status Topic", c.StatusTopic)
	}

	// Store settings
	addSection("Store")
	addField("Backend", string(c.StoreBackend))
	if c.StoreBackend == StoreBackendMongo {
		addField("Mongo URI", c.MongoURI)
		addField("Database", c.MongoDB)
	}

	// HTTP api settings
	addSection("HTTP API")
	addField("Endpoint", c.HTTPEndpoint)
	if c.JWTPublicKeyFile != "" {
		addField("JWT Public Key", c.JWTPublicKeyFile)
	}

	// Timing
	addSection("Timing")
	addField("Sweep Interval", c.SweepInterval.String())
	addField("Resync Interval", c.ResyncInterval.String())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)

	return sb.String()
}
