package serve

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/scenesync/scenesync/cmd/util"
	"github.com/scenesync/scenesync/lib/logging"
	"github.com/scenesync/scenesync/lib/store"
	"github.com/scenesync/scenesync/lib/store/memstore"
	"github.com/scenesync/scenesync/lib/store/mongostore"
	"github.com/scenesync/scenesync/service"
	"github.com/scenesync/scenesync/service/bus/mqttbus"
	"github.com/scenesync/scenesync/service/gateway"
)

var (
	serveCmdConfig = &service.Config{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the scenesync service",
		Long:    `Start the scenesync service with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is SCENESYNC_<flag> (e.g. SCENESYNC_MQTT_URI=tcp://broker:1883)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "realm"
	ServeCmd.PersistentFlags().String(key, "realm", cmdUtil.WrapString("The topic realm to subscribe to. The service handles every scene object event published under it"))

	key = "mqtt-uri"
	ServeCmd.PersistentFlags().String(key, "tcp://localhost:1883", cmdUtil.WrapString("The address of the MQTT broker (e.g. tcp://localhost:1883, ssl://broker:8883)"))

	key = "mqtt-client-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The MQTT client id. Keep it stable across restarts so the broker replays missed events into the persistent session. Randomized from the realm when empty"))

	key = "mqtt-username"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Username to authenticate against the broker with"))

	key = "mqtt-password"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Password to authenticate against the broker with"))

	key = "status-topic"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Topic to announce service status on. No announcement when empty"))

	key = "store"
	ServeCmd.PersistentFlags().String(key, "mongo", cmdUtil.WrapString("The store backend to use (mongo, memory). The memory backend loses all state on restart and exists for development"))

	key = "mongo-uri"
	ServeCmd.PersistentFlags().String(key, "mongodb://localhost:27017", cmdUtil.WrapString("The MongoDB connection string (only for the mongo store)"))

	key = "mongo-db"
	ServeCmd.PersistentFlags().String(key, "scenesync", cmdUtil.WrapString("The MongoDB database name (only for the mongo store)"))

	key = "http-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8884", cmdUtil.WrapString("The address on which the REST API will listen"))

	key = "jwt-public-keyfile"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to the RS256 public key used to verify REST credentials. The REST API runs unauthenticated when empty"))

	key = "sweep-interval"
	ServeCmd.PersistentFlags().Duration(key, time.Second, cmdUtil.WrapString("How often to sweep for expired objects"))

	key = "resync-interval"
	ServeCmd.PersistentFlags().Duration(key, time.Hour, cmdUtil.WrapString("How often to reconcile the in-memory cache against the store"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "log-format"
	ServeCmd.PersistentFlags().String(key, "json", cmdUtil.WrapString("Log output format (json, console)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts it to the service configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Realm = viper.GetString("realm")
	serveCmdConfig.MQTTURI = viper.GetString("mqtt-uri")
	serveCmdConfig.MQTTClientID = viper.GetString("mqtt-client-id")
	serveCmdConfig.MQTTUsername = viper.GetString("mqtt-username")
	serveCmdConfig.MQTTPassword = viper.GetString("mqtt-password")
	serveCmdConfig.StatusTopic = viper.GetString("status-topic")
	serveCmdConfig.MongoURI = viper.GetString("mongo-uri")
	serveCmdConfig.MongoDB = viper.GetString("mongo-db")
	serveCmdConfig.HTTPEndpoint = viper.GetString("http-endpoint")
	serveCmdConfig.JWTPublicKeyFile = viper.GetString("jwt-public-keyfile")
	serveCmdConfig.SweepInterval = viper.GetDuration("sweep-interval")
	serveCmdConfig.ResyncInterval = viper.GetDuration("resync-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.LogFormat = viper.GetString("log-format")

	if serveCmdConfig.Realm == "" {
		return fmt.Errorf("realm must not be empty")
	}
	if serveCmdConfig.SweepInterval <= 0 {
		return fmt.Errorf("sweep-interval must be positive")
	}

	// parse store backend
	switch backend := viper.GetString("store"); backend {
	case "mongo":
		serveCmdConfig.StoreBackend = service.StoreBackendMongo
	case "memory":
		serveCmdConfig.StoreBackend = service.StoreBackendMemory
	default:
		return fmt.Errorf("invalid store backend %s (expected one of: mongo, memory)", backend)
	}

	// a stable-ish default client id, one per realm
	if serveCmdConfig.MQTTClientID == "" {
		serveCmdConfig.MQTTClientID = fmt.Sprintf("scenesync_%s_%02d", serveCmdConfig.Realm, rand.Intn(100))
	}

	return nil
}

// run starts the scenesync service
func run(_ *cobra.Command, _ []string) error {
	if err := logging.Setup(serveCmdConfig.LogLevel, serveCmdConfig.LogFormat); err != nil {
		return err
	}
	log.Info().Msg(serveCmdConfig.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// open the store
	var st store.Store
	switch serveCmdConfig.StoreBackend {
	case service.StoreBackendMemory:
		st = memstore.New()
	case service.StoreBackendMongo:
		var err error
		st, err = mongostore.Connect(ctx, serveCmdConfig.MongoURI, serveCmdConfig.MongoDB)
		if err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(closeCtx)
	}()

	// connect the bus
	busOpts := mqttbus.Options{
		URI:      serveCmdConfig.MQTTURI,
		ClientID: serveCmdConfig.MQTTClientID,
		Username: serveCmdConfig.MQTTUsername,
		Password: serveCmdConfig.MQTTPassword,
	}
	if serveCmdConfig.StatusTopic != "" {
		busOpts.WillTopic = serveCmdConfig.StatusTopic
		busOpts.WillPayload = []byte("Persistence service disconnected: " + serveCmdConfig.Realm)
	}
	b := mqttbus.New(busOpts)
	defer b.Close()

	svc := service.New(*serveCmdConfig, st, b)

	// start the gateway
	gwConfig := gateway.Config{
		Endpoint: serveCmdConfig.HTTPEndpoint,
		Realm:    serveCmdConfig.Realm,
		Debug:    serveCmdConfig.LogLevel == "debug",
	}
	if serveCmdConfig.JWTPublicKeyFile != "" {
		key, err := gateway.LoadPublicKey(serveCmdConfig.JWTPublicKeyFile)
		if err != nil {
			return err
		}
		gwConfig.JWTPublicKey = key
	} else {
		log.Warn().Msg("no jwt public key configured, REST API runs unauthenticated")
	}
	go func() {
		if err := gateway.New(gwConfig, svc).Run(ctx); err != nil {
			log.Error().Err(err).Msg("gateway failed")
			stop()
		}
	}()

	return svc.Run(ctx)
}
