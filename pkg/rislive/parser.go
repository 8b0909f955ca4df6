package rislive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/models"
)

// RISMessage is the top-level message from RIS Live.
type RISMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RISUpdateData is the BGP update data from RIS Live.
type RISUpdateData struct {
	Timestamp     float64           `json:"timestamp"`
	Peer          string            `json:"peer"`
	PeerASN       json.RawMessage   `json:"peer_asn"` // Can be string or number
	Host          string            `json:"host"`
	Path          json.RawMessage   `json:"path"`
	Announcements []RISAnnouncement `json:"announcements"`
	Withdrawals   []string          `json:"withdrawals"`
	Community     []json.RawMessage `json:"community"`
}

// RISAnnouncement represents announced prefixes.
type RISAnnouncement struct {
	NextHop  string   `json:"next_hop"`
	Prefixes []string `json:"prefixes"`
}

// ParseMessage parses a RIS Live WebSocket message into BGP updates, one per
// announced or withdrawn prefix. Returns nil if the message is not a BGP
// update (e.g., ris_error, pong).
func ParseMessage(data []byte, collector string) ([]models.BGPUpdate, error) {
	var msg RISMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	if msg.Type != "ris_message" {
		return nil, nil
	}

	var updateData RISUpdateData
	if err := json.Unmarshal(msg.Data, &updateData); err != nil {
		return nil, fmt.Errorf("unmarshal update data: %w", err)
	}

	// The host field is authoritative; subscriptions without a host filter
	// receive every collector.
	if updateData.Host != "" {
		collector = hostCollector(updateData.Host)
	}

	peerASN := models.ParseASN(updateData.PeerASN)

	asPath, err := models.ParseASPath(updateData.Path)
	if err != nil {
		return nil, fmt.Errorf("parse AS path: %w", err)
	}

	var originASN uint32
	if len(asPath) > 0 {
		originASN = asPath[len(asPath)-1]
	}

	communities := models.ParseCommunities(updateData.Community)

	timestamp := time.Unix(int64(updateData.Timestamp), int64((updateData.Timestamp-float64(int64(updateData.Timestamp)))*1e9)).UTC()

	var updates []models.BGPUpdate
	for _, prefix := range updateData.Withdrawals {
		updates = append(updates, models.BGPUpdate{
			Timestamp:    timestamp,
			PeerASN:      peerASN,
			PeerAddress:  updateData.Peer,
			Prefix:       prefix,
			Announcement: false,
			Collector:    collector,
		})
	}
	for _, ann := range updateData.Announcements {
		for _, prefix := range ann.Prefixes {
			updates = append(updates, models.BGPUpdate{
				Timestamp:    timestamp,
				PeerASN:      peerASN,
				PeerAddress:  updateData.Peer,
				Prefix:       prefix,
				ASPath:       asPath,
				OriginASN:    originASN,
				Communities:  communities,
				Announcement: true,
				Collector:    collector,
			})
		}
	}

	return updates, nil
}

// hostCollector turns "rrc21.ripe.net" into "rrc21".
func hostCollector(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] == '.' {
			return host[:i]
		}
	}
	return host
}
