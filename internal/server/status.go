package server

import (
	"strings"
	"time"

	"github.com/Tyrowin/lanrelay/internal/ids"
	"github.com/Tyrowin/lanrelay/internal/protocol"
)

// Health is the body of the /status probe. Callers use it to decide
// whether this relay is reachable before falling back to another
// rendezvous path.
type Health struct {
	Status      string  `json:"status"`
	Address     string  `json:"address"`
	Port        int     `json:"port"`
	ClientCount int     `json:"clientCount"`
	RoomCount   int     `json:"roomCount"`
	Uptime      float64 `json:"uptime"`
	Timestamp   int64   `json:"timestamp"`
}

// StatusResponder builds read-only snapshots of relay state.
type StatusResponder struct {
	registry  *Registry
	rooms     *RoomManager
	info      func() protocol.ServerInfo
	startedAt time.Time
	now       func() time.Time
}

// NewStatusResponder returns a responder reporting on registry and rooms.
func NewStatusResponder(registry *Registry, rooms *RoomManager, info func() protocol.ServerInfo, startedAt time.Time) *StatusResponder {
	return &StatusResponder{
		registry:  registry,
		rooms:     rooms,
		info:      info,
		startedAt: startedAt,
		now:       time.Now,
	}
}

// Health returns client and room counts plus uptime in seconds.
func (s *StatusResponder) Health() Health {
	info := s.info()
	now := s.now()
	return Health{
		Status:      "ok",
		Address:     info.Address,
		Port:        info.Port,
		ClientCount: s.registry.Len(),
		RoomCount:   s.rooms.Len(),
		Uptime:      now.Sub(s.startedAt).Seconds(),
		Timestamp:   now.UnixMilli(),
	}
}

// Devices lists every connected client except excludingID.
func (s *StatusResponder) Devices(excludingID string) []protocol.Device {
	clients := s.registry.ListOthers(excludingID)
	devices := make([]protocol.Device, 0, len(clients))
	for _, c := range clients {
		room, _ := s.rooms.RoomOf(c.ID)
		devices = append(devices, protocol.Device{
			ID:          c.ID,
			Name:        deviceName(c.UserAgent, c.ID),
			Address:     c.Address,
			ConnectedAt: c.ConnectedAt.UnixMilli(),
			Room:        room,
		})
	}
	return devices
}

// DeviceList is the device-list reply for excludingID.
func (s *StatusResponder) DeviceList(excludingID string) *protocol.DeviceList {
	info := s.info()
	info.Timestamp = s.now().UnixMilli()
	return &protocol.DeviceList{Devices: s.Devices(excludingID), ServerInfo: info}
}

// deviceName turns a User-Agent into a short label such as
// "Firefox on Android". Unknown agents fall back to the client id prefix.
func deviceName(userAgent, clientID string) string {
	browser := matchFirst(userAgent, browserMarkers)
	platform := matchFirst(userAgent, platformMarkers)
	switch {
	case browser != "" && platform != "":
		return browser + " on " + platform
	case browser != "":
		return browser
	case platform != "":
		return platform + " device"
	default:
		return "Device " + ids.Short(clientID)
	}
}

type marker struct {
	token string
	label string
}

// Order matters: Edge and Opera also claim to be Chrome, and Chrome also
// claims to be Safari.
var browserMarkers = []marker{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
	{"Go-http-client", "Go client"},
}

var platformMarkers = []marker{
	{"Android", "Android"},
	{"iPhone", "iPhone"},
	{"iPad", "iPad"},
	{"Windows", "Windows"},
	{"Mac OS X", "macOS"},
	{"CrOS", "ChromeOS"},
	{"Linux", "Linux"},
}

func matchFirst(s string, markers []marker) string {
	for _, m := range markers {
		if strings.Contains(s, m.token) {
			return m.label
		}
	}
	return ""
}
