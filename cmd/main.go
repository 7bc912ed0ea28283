package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tiiuae/rclgo/pkg/rclgo"

	"github.com/tiiuae/survey-guidance/internal/cloudlink"
	"github.com/tiiuae/survey-guidance/internal/commands"
	"github.com/tiiuae/survey-guidance/internal/config"
	"github.com/tiiuae/survey-guidance/internal/flight"
	"github.com/tiiuae/survey-guidance/internal/flightlog"
	"github.com/tiiuae/survey-guidance/internal/guidance"
	"github.com/tiiuae/survey-guidance/internal/pathplanner"
	"github.com/tiiuae/survey-guidance/internal/payload"
	"github.com/tiiuae/survey-guidance/internal/ros2app"
	"github.com/tiiuae/survey-guidance/internal/telemetry"
	"github.com/tiiuae/survey-guidance/internal/types"
)

// time left for the last events to reach the broker after the mission ends
const shutdownGrace = 2 * time.Second

var (
	deafultFlagSet    = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	deviceID          = deafultFlagSet.String("device_id", "", "The provisioned device id")
	mqttBrokerAddress = deafultFlagSet.String("mqtt_broker", "", "MQTT broker protocol, address and port")
	privateKeyPath    = deafultFlagSet.String("private_key", "", "The private key for the MQTT authentication")
	configPath        = deafultFlagSet.String("config", "", "Mission configuration file (.yaml or .toml)")
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 1 unless every objective was met.
func run() int {
	if err := deafultFlagSet.Parse(os.Args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *deviceID != "" {
		cfg.DeviceID = *deviceID
	}
	if *mqttBrokerAddress != "" {
		cfg.MQTT.Broker = *mqttBrokerAddress
	}
	if *privateKeyPath != "" {
		cfg.MQTT.PrivateKey = *privateKeyPath
	}
	if cfg.DeviceID == "" {
		log.Fatal("No device id, use -device_id or device_id in the configuration")
	}

	mission, scanLength, err := cfg.Route()
	if err != nil {
		log.Fatalf("Invalid mission: %v", err)
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	// quitFunc will be called when process is terminated
	ctx, quitFunc := context.WithCancel(context.Background())

	// wait group will make sure all goroutines have time to clean up
	var wg sync.WaitGroup

	// Setup MQTT
	mqttClient, err := cloudlink.NewMQTTClient(cloudlink.Options{
		Server:          cfg.MQTT.Broker,
		DeviceID:        cfg.DeviceID,
		ClientID:        cfg.MQTT.ClientID,
		PrivateKeyPath:  cfg.MQTT.PrivateKey,
		Algorithm:       cfg.MQTT.Algorithm,
		Audience:        cfg.MQTT.Audience,
		ConnectTimeout:  cfg.MQTT.ConnectTimeout,
		ConnectAttempts: cfg.MQTT.ConnectAttempts,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer mqttClient.Disconnect(1000)

	// Setup ROS nodes
	rclArgs, rclErr := rclgo.NewRCLArgs("")
	if rclErr != nil {
		log.Fatal(rclErr)
	}

	rclContext, rclErr := rclgo.NewContext(&wg, 0, rclArgs)
	if rclErr != nil {
		log.Fatal(rclErr)
	}
	defer rclContext.Close()

	rclLocalNode, rclErr := rclContext.NewNode("survey_guidance", cfg.DeviceID)
	if rclErr != nil {
		log.Fatal(rclErr)
	}

	// External services must be reachable before the vehicle leaves the ground
	executor := flight.NewMQTTExecutor(mqttClient, cfg.DeviceID)
	dispatcher := flight.NewDispatcher(executor)
	if err := executor.Listen(dispatcher.HandleStatus); err != nil {
		log.Fatal(err)
	}
	if err := executor.WaitAvailable(ctx, cfg.Flight.ServiceTimeout); err != nil {
		log.Fatal(err)
	}

	var refiner guidance.Refiner
	if cfg.Planner.Enabled {
		planner := pathplanner.NewMQTTPlanner(mqttClient, cfg.DeviceID, cfg.Planner.Timeout)
		if err := planner.Start(); err != nil {
			log.Fatal(err)
		}
		if err := planner.WaitAvailable(ctx, cfg.Flight.ServiceTimeout); err != nil {
			log.Fatal(err)
		}
		refiner = pathplanner.NewRefiner(planner)
	}

	deployer, closeDeployer, err := newDeployer(cfg, rclLocalNode)
	if err != nil {
		log.Fatal(err)
	}
	defer closeDeployer()

	paths := ros2app.NewPathPublisher(rclLocalNode)
	defer paths.Close()

	flightLog, err := flightlog.Open(cfg.FlightLog.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer flightLog.Close()

	g := guidance.New(cfg.DeviceID, cfg.Guidance(scanLength), mission, dispatcher, refiner, deployer, paths)
	dispatcher.Observe(g)

	messagebus := make(chan types.Message, 100)
	bus := types.NewMessageBus(
		messagebus,
		types.NewLogger(),
		telemetry.New(rclLocalNode, cfg.DeviceID, cfg.Telemetry, cfg.CameraModel()),
		g,
		flightlog.NewHandler(flightLog),
		cloudlink.NewEvents(mqttClient, cfg.DeviceID, cfg.MQTT.StateInterval),
		commands.New(mqttClient, cfg.DeviceID),
	)

	go bus.Run(ctx, &wg)

	// wait for termination or the end of the mission
	select {
	case <-terminationSignals:
	case <-g.Done():
		select {
		case <-terminationSignals:
		case <-time.After(shutdownGrace):
		}
	}
	// cancel the main context
	log.Printf("Shutting down..")
	quitFunc()

	// wait until goroutines have done their cleanup
	log.Printf("Waiting for routines to finish...")
	wg.Wait()

	res := g.Result()
	log.Printf("Mission %v: %s", res.State, res.Reason)
	log.Printf("Signing off - BYE")
	if !res.Success() {
		return 1
	}
	return 0
}

func newDeployer(cfg config.Config, node *rclgo.Node) (guidance.Deployer, func(), error) {
	if cfg.Payload.Mode == "serial" {
		d, err := payload.OpenSerial(cfg.Payload.SerialPort, cfg.Payload.BaudRate, cfg.Payload.AckTimeout)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { d.Close() }, nil
	}

	d, err := payload.NewROS2Deployer(node, cfg.Payload.Topic)
	if err != nil {
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}
