package world

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment contract between the launcher and its workers.
const (
	EnvRendezvousAddr = "WORLDCTL_RENDEZVOUS_ADDR"
	EnvWorldSize      = "WORLDCTL_WORLD_SIZE"
	EnvSlot           = "WORLDCTL_SLOT"
	EnvLaunchToken    = "WORLDCTL_LAUNCH_TOKEN"
	EnvJoinTimeout    = "WORLDCTL_JOIN_TIMEOUT"
	EnvTLSCAFile      = "WORLDCTL_TLS_CA_FILE"
	EnvTLSCertFile    = "WORLDCTL_TLS_CERT_FILE"
	EnvTLSKeyFile     = "WORLDCTL_TLS_KEY_FILE"
	EnvTLSServerName  = "WORLDCTL_TLS_SERVER_NAME"
)

// Open MPI sets these for every launched rank; honoring them lets the
// probe run under mpirun without a worldctl coordinator.
const (
	envOMPIRank = "OMPI_COMM_WORLD_RANK"
	envOMPISize = "OMPI_COMM_WORLD_SIZE"
)

// Assignment is one worker's slot in a pending launch.
type Assignment struct {
	Addr  string
	Size  int
	Slot  int
	Token string
	// JoinTimeout is the launcher's join window, so a worker waits as
	// long for the welcome as the coordinator waits for joins. Zero
	// falls back to DefaultJoinTimeout.
	JoinTimeout time.Duration
	TLS         ClientTLS
}

// FromEnv reads the launcher contract. ok is false when no rendezvous
// address is present; a present but malformed contract is an error.
func FromEnv() (Assignment, bool, error) {
	addr := strings.TrimSpace(os.Getenv(EnvRendezvousAddr))
	if addr == "" {
		return Assignment{}, false, nil
	}
	size, err := requiredInt(EnvWorldSize)
	if err != nil {
		return Assignment{}, false, err
	}
	slot, err := requiredInt(EnvSlot)
	if err != nil {
		return Assignment{}, false, err
	}
	if size < 1 {
		return Assignment{}, false, fmt.Errorf("%s must be >= 1, got %d", EnvWorldSize, size)
	}
	if slot < 0 || slot >= size {
		return Assignment{}, false, fmt.Errorf("%s=%d out of range for %s=%d", EnvSlot, slot, EnvWorldSize, size)
	}
	var joinTimeout time.Duration
	if raw := strings.TrimSpace(os.Getenv(EnvJoinTimeout)); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return Assignment{}, false, fmt.Errorf("%s: %v", EnvJoinTimeout, err)
		}
		if secs < 1 {
			return Assignment{}, false, fmt.Errorf("%s must be >= 1, got %d", EnvJoinTimeout, secs)
		}
		joinTimeout = time.Duration(secs) * time.Second
	}
	return Assignment{
		Addr:        addr,
		Size:        size,
		Slot:        slot,
		Token:       os.Getenv(EnvLaunchToken),
		JoinTimeout: joinTimeout,
		TLS: ClientTLS{
			CAFile:     strings.TrimSpace(os.Getenv(EnvTLSCAFile)),
			CertFile:   strings.TrimSpace(os.Getenv(EnvTLSCertFile)),
			KeyFile:    strings.TrimSpace(os.Getenv(EnvTLSKeyFile)),
			ServerName: strings.TrimSpace(os.Getenv(EnvTLSServerName)),
		},
	}, true, nil
}

func fromOpenMPIEnv() (rank, size int, ok bool, err error) {
	rawRank := strings.TrimSpace(os.Getenv(envOMPIRank))
	rawSize := strings.TrimSpace(os.Getenv(envOMPISize))
	if rawRank == "" || rawSize == "" {
		return 0, 0, false, nil
	}
	rank, err = strconv.Atoi(rawRank)
	if err != nil {
		return 0, 0, true, fmt.Errorf("%s: %v", envOMPIRank, err)
	}
	size, err = strconv.Atoi(rawSize)
	if err != nil {
		return 0, 0, true, fmt.Errorf("%s: %v", envOMPISize, err)
	}
	return rank, size, true, nil
}

func requiredInt(key string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, fmt.Errorf("%s is required when %s is set", key, EnvRendezvousAddr)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return v, nil
}
