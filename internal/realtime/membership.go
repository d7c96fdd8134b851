package realtime

import (
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Staff roles recognized by the channel membership table. Any other role
// yields an empty membership, which is not an error.
const (
	RoleReceptionistType2 = "receptionist-type-2"
	RoleOphthalmologist   = "ophthalmologist"
	RoleDoctor            = "doctor"
	RoleOptometrist       = "optometrist"
)

// Broadcast channel names shared with the queue server.
const (
	ChannelEyeDropQueue         = "eye-drop-queue"
	ChannelOphthalmologistQueue = "ophthalmologist-queue"
	ChannelOptometristQueue     = "optometrist-queue"
	doctorChannelPrefix         = "doctor:"
)

var errMissingConnection = errors.New("realtime: connection is required")

// DoctorChannel returns the doctor-specific channel for a staff member.
func DoctorChannel(staffID string) string {
	return doctorChannelPrefix + staffID
}

// ComputeChannels derives the broadcast channels a staff member must belong
// to. It is a pure function of (role, staffID): the same inputs always yield
// the same sorted set. An unrecognized role maps to the empty set.
func ComputeChannels(role, staffID string) []string {
	var channels []string
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleReceptionistType2:
		channels = []string{ChannelEyeDropQueue, ChannelOphthalmologistQueue}
	case RoleOphthalmologist, RoleDoctor:
		channels = []string{DoctorChannel(staffID), ChannelOphthalmologistQueue}
	case RoleOptometrist:
		channels = []string{ChannelOptometristQueue}
	default:
		return nil
	}
	sort.Strings(channels)
	return channels
}

// MembershipConfig configures the channel membership controller.
type MembershipConfig struct {
	Connection *Client
	Role       string
	StaffID    string
	// SettleDelay is waited after a (re)connect before join directives are
	// sent, so the server has finished registering the session.
	SettleDelay time.Duration
	Logger      *zap.Logger
}

// Membership re-asserts channel membership on every connect and reconnect.
// The server does not preserve subscriptions across a transport-level
// reconnect, so joins are sent each time; join directives are idempotent on
// the server side.
type Membership struct {
	conn        *Client
	role        string
	staffID     string
	settleDelay time.Duration
	logger      *zap.Logger

	removeConnect   func()
	removeReconnect func()
}

// NewMembership constructs the controller. Call Bind to attach it to the
// connection's lifecycle signals.
func NewMembership(cfg MembershipConfig) (*Membership, error) {
	if cfg.Connection == nil {
		return nil, errMissingConnection
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Membership{
		conn:        cfg.Connection,
		role:        cfg.Role,
		staffID:     cfg.StaffID,
		settleDelay: cfg.SettleDelay,
		logger:      logger,
	}, nil
}

// Bind registers connect/reconnect listeners that re-join the computed
// channel set. The returned release function removes exactly the listeners
// added here.
func (m *Membership) Bind() func() {
	m.removeConnect = m.conn.OnConnect(func() {
		m.joinAfterSettle()
	})
	m.removeReconnect = m.conn.OnReconnect(func(int) {
		m.joinAfterSettle()
	})
	return func() {
		if m.removeConnect != nil {
			m.removeConnect()
		}
		if m.removeReconnect != nil {
			m.removeReconnect()
		}
	}
}

// JoinChannels sends one join directive per channel in the computed set.
// Zero directives are sent for an unrecognized role.
func (m *Membership) JoinChannels() {
	channels := ComputeChannels(m.role, m.staffID)
	for _, channel := range channels {
		m.conn.Send("join", map[string]any{"channel": channel})
	}
	m.logger.Debug("channel membership asserted",
		zap.String("role", m.role),
		zap.Int("channels", len(channels)))
}

func (m *Membership) joinAfterSettle() {
	if m.settleDelay <= 0 {
		m.JoinChannels()
		return
	}
	time.AfterFunc(m.settleDelay, m.JoinChannels)
}
