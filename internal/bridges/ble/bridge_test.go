package ble

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/device"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/mqtt"
)

func TestNewBridge_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"missing config", BridgeOptions{MQTTClient: NewMockMQTTClient(), Clients: newFakeFactory()}},
		{"missing mqtt", BridgeOptions{Config: testConfig(), Clients: newFakeFactory()}},
		{"missing clients", BridgeOptions{Config: testConfig(), MQTTClient: NewMockMQTTClient()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() error = nil, want error")
			}
		})
	}
}

func TestBridge_StartPublishesStateAndDiscovery(t *testing.T) {
	rig := newTestRig(t)

	subs := rig.mqtt.GetSubscriptions()
	if len(subs) != 1 || subs[0].Topic != "boneco/command/+" {
		t.Errorf("subscriptions = %+v, want boneco/command/+", subs)
	}

	state := rig.states()[0]
	if !state.Available {
		t.Error("state.Available = false, want true")
	}
	if state.Address != testAddress || state.Name != "Living room" {
		t.Errorf("state address/name = %q/%q", state.Address, state.Name)
	}
	// Level 2 of 6.
	if got := state.State["fan"]; got != float64(33) {
		t.Errorf("state fan = %v, want 33", got)
	}
	if got := state.State["rssi"]; got != float64(-61) {
		t.Errorf("state rssi = %v, want -61", got)
	}
	if _, ok := state.State["reset_reminder_clean_date"]; ok {
		t.Error("buttons must not appear in state")
	}
	for _, p := range rig.mqtt.publishedTo(rig.topics.DeviceState(rig.node())) {
		if !p.Retained || p.QoS != 1 {
			t.Errorf("state publish retained=%v qos=%d, want retained qos 1", p.Retained, p.QoS)
		}
	}

	discovery := rig.mqtt.publishedTo(rig.topics.DeviceDiscovery(rig.node()))
	if len(discovery) != 1 {
		t.Fatalf("discovery publishes = %d, want 1", len(discovery))
	}
	if !discovery[0].Retained {
		t.Error("discovery not retained")
	}
	var disc DiscoveryMessage
	if err := json.Unmarshal(discovery[0].Payload, &disc); err != nil {
		t.Fatalf("decode discovery: %v", err)
	}
	if disc.Device.Manufacturer != boneco.Manufacturer || disc.Device.Model != "H700" || disc.Device.SerialNumber != "SN-700" {
		t.Errorf("discovery device = %+v", disc.Device)
	}
	var keys []string
	for _, e := range disc.Entities {
		keys = append(keys, e.Key)
	}
	for _, want := range []string{"fan", "humidifier", "child_lock", "reset_reminder_clean_date", "rssi"} {
		if !slices.Contains(keys, want) {
			t.Errorf("discovery entities %v missing %q", keys, want)
		}
	}

	records, _ := rig.history.get()
	if len(records) == 0 || records[0].entryID != "entry-1" || records[0].source != device.HistorySourcePoll {
		t.Errorf("history records = %+v", records)
	}

	samples, signals, _ := rig.metrics.get()
	if len(samples) == 0 {
		t.Fatal("no device sample exported")
	}
	if got := samples[0].Fields["fan"]; got != 33 {
		t.Errorf("sample fan = %v, want 33", got)
	}
	if _, ok := samples[0].Fields["humidifier"]; ok {
		t.Error("non-scalar values must not be exported")
	}
	if len(signals) == 0 || signals[0] != -61 {
		t.Errorf("signals = %v, want [-61]", signals)
	}

	if rig.observer.count() == 0 {
		t.Error("observer not notified")
	}
}

func TestBridge_DiscoveryPublishedOnlyWhenEntitiesChange(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.bridge.Refresh(context.Background(), testAddress); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n := len(rig.mqtt.publishedTo(rig.topics.DeviceDiscovery(rig.node()))); n != 1 {
		t.Errorf("discovery publishes = %d, want 1", n)
	}
	if n := len(rig.states()); n != 2 {
		t.Errorf("state publishes = %d, want 2", n)
	}
}

func TestBridge_CommandQueuesWrite(t *testing.T) {
	rig := newTestRig(t)

	rig.sendCommand(t, CommandMessage{ID: "c1", Entity: "fan", Value: 50})

	acks := rig.acks()
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	if acks[0].Status != AckAccepted || acks[0].CommandID != "c1" || acks[0].Address != testAddress {
		t.Errorf("ack = %+v", acks[0])
	}

	client := rig.factory.client(testAddress)
	if !waitFor(2*time.Second, func() bool { return len(client.writes()) == 1 }) {
		t.Fatal("state not written")
	}
	if got := client.writes()[0].FanLevel; got != 3 {
		t.Errorf("written FanLevel = %d, want 3", got)
	}

	if !waitFor(2*time.Second, func() bool {
		_, _, outcomes := rig.metrics.get()
		return slices.Contains(outcomes, true)
	}) {
		t.Error("write outcome not exported")
	}
	if !waitFor(2*time.Second, func() bool {
		records, _ := rig.history.get()
		return slices.ContainsFunc(records, func(r historyRecord) bool {
			return r.source == device.HistorySourceWrite && r.snap.State.FanLevel == 3
		})
	}) {
		t.Error("write not recorded in history")
	}
}

func TestBridge_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  CommandMessage
		code string
	}{
		{"unknown entity", CommandMessage{ID: "e1", Entity: "turbo", Value: true}, ErrCodeUnknownEntity},
		{"out of range", CommandMessage{ID: "e2", Entity: "fan", Value: 150}, ErrCodeInvalidParameters},
		{"wrong type", CommandMessage{ID: "e3", Entity: "fan", Value: "high"}, ErrCodeInvalidParameters},
		{"read-only entity", CommandMessage{ID: "e4", Entity: "temperature", Value: 20}, ErrCodeInvalidCommand},
		{"press on switch", CommandMessage{ID: "e5", Entity: "child_lock", Action: ActionPress}, ErrCodeInvalidCommand},
		{"unknown action", CommandMessage{ID: "e6", Entity: "fan", Action: "toggle"}, ErrCodeInvalidCommand},
		{"invalid option", CommandMessage{ID: "e7", Entity: "humidifier", Value: map[string]any{"mode": "turbo"}}, ErrCodeInvalidParameters},
	}

	rig := newTestRig(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig.sendCommand(t, tt.cmd)

			acks := rig.acks()
			ack := acks[len(acks)-1]
			if ack.CommandID != tt.cmd.ID {
				t.Fatalf("last ack for %q, want %q", ack.CommandID, tt.cmd.ID)
			}
			if ack.Status != AckFailed {
				t.Errorf("ack status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.code {
				t.Errorf("ack error = %+v, want code %s", ack.Error, tt.code)
			}
		})
	}

	coord, err := rig.bridge.Coordinator(testAddress)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := coord.PendingState(); ok {
		t.Error("rejected commands must not queue a write")
	}
}

func TestBridge_CommandForUnknownDevice(t *testing.T) {
	rig := newTestRig(t)

	other := "112233445566"
	payload, _ := json.Marshal(CommandMessage{ID: "x1", Entity: "fan", Value: 10})
	if err := rig.mqtt.SimulateMessage(rig.topics.AllDeviceCommands(), rig.topics.DeviceCommand(other), payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	acks := rig.mqtt.publishedTo(rig.topics.DeviceAck(other))
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeNotConfigured {
		t.Errorf("ack = %+v, want NOT_CONFIGURED", ack)
	}
}

func TestBridge_MalformedCommand(t *testing.T) {
	rig := newTestRig(t)

	err := rig.mqtt.SimulateMessage(rig.topics.AllDeviceCommands(), rig.topics.DeviceCommand(rig.node()), []byte("{"))
	if err == nil {
		t.Error("handler error = nil, want parse error")
	}
	if len(rig.acks()) != 0 {
		t.Error("malformed command must not be acknowledged")
	}
}

func TestBridge_PressButton(t *testing.T) {
	rig := newTestRig(t)

	before := time.Now()
	rig.sendCommand(t, CommandMessage{ID: "p1", Entity: "reset_reminder_clean_date", Action: ActionPress})
	after := time.Now()

	client := rig.factory.client(testAddress)
	if !waitFor(2*time.Second, func() bool { return len(client.writes()) == 1 }) {
		t.Fatal("state not written")
	}
	got := client.writes()[0].ReminderCleanDate
	if got == nil {
		t.Fatal("ReminderCleanDate = nil")
	}
	low, high := before.Add(14*24*time.Hour), after.Add(14*24*time.Hour)
	if got.Before(low) || got.After(high) {
		t.Errorf("ReminderCleanDate = %v, want between %v and %v", got, low, high)
	}
}

func TestBridge_FetchFailurePublishesUnavailableOnce(t *testing.T) {
	rig := newTestRig(t)
	client := rig.factory.client(testAddress)
	ctx := context.Background()

	client.setFetchErr(boneco.ErrConnection)
	if err := rig.bridge.Refresh(ctx, testAddress); err == nil {
		t.Fatal("Refresh() error = nil, want fetch failure")
	}

	states := rig.states()
	last := states[len(states)-1]
	if last.Available {
		t.Error("state.Available = true after failed poll")
	}
	if last.Error == "" {
		t.Error("state.Error empty")
	}
	if got := last.State["fan"]; got != float64(33) {
		t.Errorf("unavailable state fan = %v, want last value 33", got)
	}

	count := len(states)
	_ = rig.bridge.Refresh(ctx, testAddress)
	if n := len(rig.states()); n != count {
		t.Errorf("state publishes = %d after repeated failure, want %d", n, count)
	}

	client.setFetchErr(nil)
	if err := rig.bridge.Refresh(ctx, testAddress); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	states = rig.states()
	if !states[len(states)-1].Available {
		t.Error("state.Available = false after recovery")
	}
}

func TestBridge_RemoveEntry(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.bridge.RemoveEntry("aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("RemoveEntry() error = %v", err)
	}

	for _, topic := range []string{rig.topics.DeviceState(rig.node()), rig.topics.DeviceDiscovery(rig.node())} {
		pubs := rig.mqtt.publishedTo(topic)
		last := pubs[len(pubs)-1]
		if len(last.Payload) != 0 || !last.Retained {
			t.Errorf("%s: last publish = %d bytes retained=%v, want empty retained", topic, len(last.Payload), last.Retained)
		}
	}
	if !rig.factory.client(testAddress).isClosed() {
		t.Error("client not closed")
	}
	if err := rig.bridge.RemoveEntry(testAddress); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second RemoveEntry() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := rig.bridge.Device(testAddress); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Device() error = %v, want ErrDeviceNotFound", err)
	}
	if got := rig.bridge.DeviceCounts(); got.Managed != 0 {
		t.Errorf("DeviceCounts() = %+v, want none managed", got)
	}
}

func TestBridge_AddEntry(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.bridge.AddEntry(testEntry()); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate AddEntry() error = %v, want ErrDeviceExists", err)
	}

	second := testEntry()
	second.ID = "entry-2"
	second.Address = "11:22:33:44:55:66"
	if err := rig.bridge.AddEntry(second); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if !waitFor(2*time.Second, func() bool { return rig.bridge.DeviceCounts().Available == 2 }) {
		t.Errorf("DeviceCounts() = %+v, want 2 available", rig.bridge.DeviceCounts())
	}

	rig.bridge.Stop()
	rig.bridge.Stop()

	third := testEntry()
	third.Address = "66:55:44:33:22:11"
	if err := rig.bridge.AddEntry(third); !errors.Is(err, ErrStopped) {
		t.Errorf("AddEntry() after Stop error = %v, want ErrStopped", err)
	}
}

func TestBridge_DeviceStatus(t *testing.T) {
	rig := newTestRig(t)

	st, err := rig.bridge.Device(mqtt.NodeID(testAddress))
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if !st.Available || st.LastUpdate == nil {
		t.Errorf("status available=%v last_update=%v", st.Available, st.LastUpdate)
	}
	if st.Device == nil || st.Device.Model != "H700" {
		t.Errorf("status device = %+v", st.Device)
	}
	if st.State["child_lock"] != false {
		t.Errorf("status child_lock = %v, want false", st.State["child_lock"])
	}
	if len(st.Entities) == 0 {
		t.Error("status has no entities")
	}

	all := rig.bridge.Devices()
	if len(all) != 1 || all[0].Entry.Address != testAddress {
		t.Errorf("Devices() = %+v", all)
	}
}

func TestBridge_PrunesHistoryOnStart(t *testing.T) {
	rig := newTestRig(t)

	if !waitFor(2*time.Second, func() bool {
		_, pruned := rig.history.get()
		return len(pruned) > 0
	}) {
		t.Fatal("history not pruned")
	}
	_, pruned := rig.history.get()
	if pruned[0] != 7*24*time.Hour {
		t.Errorf("prune retention = %v, want 168h", pruned[0])
	}
}
