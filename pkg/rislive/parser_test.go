package rislive

import (
	"testing"
)

func TestParseMessage_Announcement(t *testing.T) {
	// Real RIS Live message format
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.123,
			"peer": "195.66.224.175",
			"peer_asn": 6939,
			"host": "rrc00.ripe.net",
			"path": [6939, 3356, 13335],
			"announcements": [{"next_hop": "195.66.224.175", "prefixes": ["1.1.1.0/24", "1.0.0.0/24"]}],
			"community": [[65535, 666], [3356, 9999]]
		}
	}`)

	updates, err := ParseMessage(msg, "")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(updates))
	}

	update := updates[0]
	if update.Prefix != "1.1.1.0/24" {
		t.Errorf("Expected prefix 1.1.1.0/24, got %s", update.Prefix)
	}
	if updates[1].Prefix != "1.0.0.0/24" {
		t.Errorf("Expected second prefix 1.0.0.0/24, got %s", updates[1].Prefix)
	}
	if update.PeerASN != 6939 {
		t.Errorf("Expected peer ASN 6939, got %d", update.PeerASN)
	}
	if update.PeerAddress != "195.66.224.175" {
		t.Errorf("Expected peer address 195.66.224.175, got %s", update.PeerAddress)
	}
	if update.OriginASN != 13335 {
		t.Errorf("Expected origin ASN 13335, got %d", update.OriginASN)
	}
	if !update.Announcement {
		t.Error("Expected announcement=true")
	}
	if update.Collector != "rrc00" {
		t.Errorf("Expected collector rrc00, got %s", update.Collector)
	}
	if len(update.ASPath) != 3 {
		t.Errorf("Expected AS path length 3, got %d", len(update.ASPath))
	}
	if len(update.Communities) != 2 || update.Communities[0] != "65535:666" {
		t.Errorf("Expected communities [65535:666 3356:9999], got %v", update.Communities)
	}
}

func TestParseMessage_Withdrawal(t *testing.T) {
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.0,
			"peer_asn": "6939",
			"withdrawals": ["192.0.2.0/24"]
		}
	}`)

	updates, err := ParseMessage(msg, "rrc01")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(updates))
	}

	update := updates[0]
	if update.Prefix != "192.0.2.0/24" {
		t.Errorf("Expected prefix 192.0.2.0/24, got %s", update.Prefix)
	}
	if update.Announcement {
		t.Error("Expected announcement=false for withdrawal")
	}
	if update.PeerASN != 6939 {
		t.Errorf("Expected peer ASN 6939, got %d", update.PeerASN)
	}
	if update.Collector != "rrc01" {
		t.Errorf("Expected fallback collector rrc01, got %s", update.Collector)
	}
}

func TestParseMessage_WithdrawalsBeforeAnnouncements(t *testing.T) {
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.0,
			"peer_asn": 174,
			"path": [174, 13335],
			"announcements": [{"prefixes": ["1.1.1.0/24"]}],
			"withdrawals": ["1.1.1.0/24"]
		}
	}`)

	updates, err := ParseMessage(msg, "rrc00")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(updates))
	}
	if updates[0].Announcement || !updates[1].Announcement {
		t.Error("Expected withdrawal first, then announcement")
	}
}

func TestParseMessage_NonRISMessage(t *testing.T) {
	msg := []byte(`{"type": "ris_error", "data": {"message": "test"}}`)

	updates, err := ParseMessage(msg, "rrc00")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if updates != nil {
		t.Error("Expected nil for non-ris_message type")
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	if _, err := ParseMessage([]byte(`{not json`), "rrc00"); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestSubscriptionMessage(t *testing.T) {
	sub := Subscription{Host: "rrc00", Prefix: "1.1.1.0/24", MoreSpecific: true}
	msg := sub.message()
	if msg["type"] != "ris_subscribe" {
		t.Errorf("Expected ris_subscribe, got %v", msg["type"])
	}
	data := msg["data"].(map[string]interface{})
	if data["host"] != "rrc00" || data["prefix"] != "1.1.1.0/24" {
		t.Errorf("Unexpected subscription data: %v", data)
	}
	if data["moreSpecific"] != true || data["lessSpecific"] != false {
		t.Errorf("Unexpected specificity flags: %v", data)
	}
	if _, ok := data["path"]; ok {
		t.Error("Expected no path filter")
	}
}

func TestHostCollector(t *testing.T) {
	if got := hostCollector("rrc21.ripe.net"); got != "rrc21" {
		t.Errorf("hostCollector() = %q, want rrc21", got)
	}
	if got := hostCollector("rrc21"); got != "rrc21" {
		t.Errorf("hostCollector() = %q, want rrc21", got)
	}
}
