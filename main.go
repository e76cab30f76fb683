package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const MassSimVersion = "1.0.0"

// messageSink is the outbound half of the transport. The MQTT client fulfils
// it in production; tests substitute a capture sink.
type messageSink interface {
	Publish(topic string, payload []byte) error
}

// mqttSink publishes frames through the paho client.
type mqttSink struct {
	client mqtt.Client
	qos    byte
}

func (s *mqttSink) Publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, s.qos, false, payload)
	token.Wait()
	return token.Error()
}

// MassSim is the simulator singleton: one simulated communication unit, one
// broker connection, one control surface.
type MassSim struct {
	cfg       *Config
	device    *SimDevice
	router    *Router
	traffic   *TrafficLogger
	heartbeat *HeartbeatScheduler

	mqtt   mqtt.Client
	sink   messageSink
	server *http.Server
}

// NewMassSim wires the engine together without touching the network.
func NewMassSim(cfg *Config) *MassSim {
	traffic, err := NewTrafficLogger(1000, cfg.TrafficLog)
	if err != nil {
		log.Printf("Warning: traffic logger unavailable: %v", err)
		traffic, _ = NewTrafficLogger(1000, "")
	}

	sim := &MassSim{
		cfg:     cfg,
		device:  NewSimDevice(cfg),
		traffic: traffic,
	}
	sim.router = newRouter(sim)
	sim.registerFunctions()
	sim.heartbeat = newHeartbeatScheduler(sim, time.Duration(cfg.HeartbeatInterval)*time.Second)
	return sim
}

// connectMQTT establishes the broker session. On every (re)connect the
// inbound topic is re-subscribed and an identification push announces the
// unit, exactly like a powered-on field device.
func (sim *MassSim) connectMQTT() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(sim.cfg.MQTT.Broker)
	opts.SetClientID("mass_sim_" + sim.cfg.Device.Serial)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOrderMatters(false)
	if sim.cfg.MQTT.Username != "" {
		opts.SetUsername(sim.cfg.MQTT.Username)
		opts.SetPassword(sim.cfg.MQTT.Password)
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("⚠️  MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("✅ Connected to MQTT broker at", sim.cfg.MQTT.Broker)
		sim.subscribeToTopics()
		if err := sim.publishEnvelope(sim.identificationEnvelope("")); err != nil {
			log.Printf("identification push failed: %v", err)
		}
	})

	sim.mqtt = mqtt.NewClient(opts)
	sim.sink = &mqttSink{client: sim.mqtt, qos: byte(sim.cfg.MQTT.QoS)}
	if token := sim.mqtt.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// subscribeToTopics subscribes to the server-to-device topic.
func (sim *MassSim) subscribeToTopics() {
	topic := sim.cfg.Topics.FromServer
	token := sim.mqtt.Subscribe(topic, byte(sim.cfg.MQTT.QoS), sim.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("Failed to subscribe to topic %s: %v", topic, token.Error())
		return
	}
	log.Printf("📥 Subscribed to topic: %s", topic)
}

// messageHandler processes one inbound MQTT message: unframe, decode the
// envelope, dispatch, publish the replies. Malformed frames are dropped
// without a reply since no reference id can be recovered from them.
func (sim *MassSim) messageHandler(client mqtt.Client, msg mqtt.Message) {
	sim.handleFrame(msg.Payload())
}

func (sim *MassSim) handleFrame(frame []byte) {
	payload, err := DecodeFrame(frame)
	if err != nil {
		log.Printf("dropping malformed frame (%d bytes): %v", len(frame), err)
		sim.traffic.LogDropped(len(frame), err)
		return
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("dropping frame with invalid envelope: %v", err)
		sim.traffic.LogDropped(len(frame), err)
		return
	}

	log.Printf("📩 Received: %s (ref: %s)", env.Function, env.ReferenceID)
	sim.traffic.LogInbound(&env, len(frame))

	for _, reply := range sim.router.Dispatch(&env) {
		if err := sim.publishEnvelope(reply); err != nil {
			log.Printf("publish %s (ref %s) failed: %v", reply.Function, reply.ReferenceID, err)
		}
	}
}

// publishEnvelope frames and publishes one outbound envelope. Every outbound
// path in the simulator funnels through here: router replies, heartbeats,
// alarms and HTTP-triggered pushes.
func (sim *MassSim) publishEnvelope(env *Envelope) error {
	if sim.sink == nil {
		return fmt.Errorf("transport not connected")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Function, err)
	}
	frame := EncodeFrame(payload)
	if err := sim.sink.Publish(sim.cfg.Topics.ToServer, frame); err != nil {
		return err
	}
	sim.traffic.LogOutbound(env, len(frame))
	log.Printf("📤 Sent: %s (ref: %s)", env.Function, env.ReferenceID)
	return nil
}

// injectRequest runs a synthetic request through the normal dispatch path and
// publishes the results. The trigger surface uses it so that manual pushes
// exercise the same handlers and invariants as protocol traffic.
func (sim *MassSim) injectRequest(function string, request interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal %s trigger request: %w", function, err)
	}
	env := sim.newEnvelope(function, "")
	env.Request = body

	var publishErr error
	for _, reply := range sim.router.Dispatch(env) {
		if err := sim.publishEnvelope(reply); err != nil {
			publishErr = err
			log.Printf("publish %s (ref %s) failed: %v", reply.Function, reply.ReferenceID, err)
		}
	}
	return publishErr
}

// transportUp reports whether the broker session is currently established.
func (sim *MassSim) transportUp() bool {
	return sim.mqtt != nil && sim.mqtt.IsConnected()
}

// transportReady reports whether the publish path is usable. A sink without a
// broker session happens when the engine is driven directly, frame in, frame
// out, with no MQTT in between.
func (sim *MassSim) transportReady() bool {
	if sim.sink == nil {
		return false
	}
	return sim.mqtt == nil || sim.mqtt.IsConnected()
}

// Start connects the transport, starts the heartbeat and serves the control
// surface. A broker that cannot be reached at startup is fatal; everything
// after that is recovered locally.
func (sim *MassSim) Start() error {
	log.Println("Starting MASS simulator v" + MassSimVersion)
	log.Printf("Device: %s/%s", sim.cfg.Device.Flag, sim.cfg.Device.Serial)
	log.Printf("Topics: %s / %s", sim.cfg.Topics.ToServer, sim.cfg.Topics.FromServer)

	if err := sim.connectMQTT(); err != nil {
		return err
	}
	sim.heartbeat.Start()
	return sim.startWebServer()
}

// startWebServer brings up the HTTP control surface.
func (sim *MassSim) startWebServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", sim.handleHealth)
	mux.HandleFunc("/device/state", sim.handleDeviceState)
	mux.HandleFunc("/device/config", sim.handleDeviceConfig)
	mux.HandleFunc("/device/meter/add", sim.handleMeterAdd)
	mux.HandleFunc("/trigger/heartbeat", sim.handleTriggerHeartbeat)
	mux.HandleFunc("/trigger/alarm", sim.handleTriggerAlarm)
	mux.HandleFunc("/trigger/write", sim.handleTriggerWrite)
	mux.HandleFunc("/trigger/reset", sim.handleTriggerReset)
	mux.HandleFunc("/trigger/relay", sim.handleTriggerRelay)
	mux.HandleFunc("/api/traffic", sim.handleTraffic)

	sim.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", sim.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		log.Printf("Control surface starting on :%d", sim.cfg.APIPort)
		if err := sim.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// cleanup tears everything down in dependency order.
func (sim *MassSim) cleanup() {
	log.Println("Performing cleanup...")

	sim.heartbeat.Stop()

	if sim.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sim.server.Shutdown(ctx); err != nil {
			log.Printf("Control surface shutdown: %v", err)
		}
	}

	if sim.mqtt != nil && sim.mqtt.IsConnected() {
		log.Println("Disconnecting from MQTT...")
		sim.mqtt.Disconnect(1000)
	}

	if err := sim.traffic.Close(); err != nil {
		log.Printf("Error closing traffic log: %v", err)
	}

	log.Println("Cleanup completed")
}

func main() {
	cfg, err := LoadConfig(os.Getenv("MASS_CONFIG"))
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	sim := NewMassSim(cfg)
	if err := sim.Start(); err != nil {
		log.Fatalf("Startup failed: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received")
	sim.cleanup()
}
