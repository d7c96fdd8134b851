package realtime

import (
	"reflect"
	"testing"
)

func TestComputeChannelsIsDeterministic(t *testing.T) {
	first := ComputeChannels(RoleOphthalmologist, "staff-9")
	second := ComputeChannels(RoleOphthalmologist, "staff-9")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical channel sets, got %v and %v", first, second)
	}
}

func TestComputeChannelsRoleTable(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		staffID  string
		expected []string
	}{
		{
			name:     "receptionist-type-2",
			role:     RoleReceptionistType2,
			staffID:  "staff-1",
			expected: []string{ChannelEyeDropQueue, ChannelOphthalmologistQueue},
		},
		{
			name:     "ophthalmologist",
			role:     RoleOphthalmologist,
			staffID:  "staff-2",
			expected: []string{"doctor:staff-2", ChannelOphthalmologistQueue},
		},
		{
			name:     "doctor-alias",
			role:     RoleDoctor,
			staffID:  "staff-3",
			expected: []string{"doctor:staff-3", ChannelOphthalmologistQueue},
		},
		{
			name:     "optometrist",
			role:     RoleOptometrist,
			staffID:  "staff-4",
			expected: []string{ChannelOptometristQueue},
		},
		{
			name:     "case-and-whitespace-insensitive",
			role:     "  Optometrist ",
			staffID:  "staff-5",
			expected: []string{ChannelOptometristQueue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channels := ComputeChannels(tt.role, tt.staffID)
			if len(channels) != len(tt.expected) {
				t.Fatalf("expected %d channels, got %v", len(tt.expected), channels)
			}
			for _, expected := range tt.expected {
				found := false
				for _, channel := range channels {
					if channel == expected {
						found = true
					}
				}
				if !found {
					t.Fatalf("expected channel %s in %v", expected, channels)
				}
			}
		})
	}
}

func TestComputeChannelsUnrecognizedRoleYieldsEmptySet(t *testing.T) {
	channels := ComputeChannels("janitor", "S1")
	if len(channels) != 0 {
		t.Fatalf("expected empty channel set for unrecognized role, got %v", channels)
	}
}

func TestJoinChannelsUnrecognizedRoleSendsNothing(t *testing.T) {
	client, err := NewClient(ClientConfig{ServerURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	membership, err := NewMembership(MembershipConfig{
		Connection: client,
		Role:       "janitor",
		StaffID:    "S1",
	})
	if err != nil {
		t.Fatalf("unexpected membership error: %v", err)
	}

	// Disconnected client drops sends; the assertion is only that joining
	// with an unknown role neither panics nor errors.
	membership.JoinChannels()
}

func TestNewMembershipRequiresConnection(t *testing.T) {
	if _, err := NewMembership(MembershipConfig{Role: RoleDoctor}); err == nil {
		t.Fatalf("expected error when connection is missing")
	}
}
