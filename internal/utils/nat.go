package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	natlib "github.com/libp2p/go-nat"
)

// NAT is an alias to the libp2p NAT interface to avoid leaking the external package
// beyond this utility layer.
type NAT = natlib.NAT

const (
	natTimeout       = 5 * time.Second
	natMappingLease  = 30 * time.Minute
	natMappingPrefix = "hwcast"
)

var (
	natOnce      sync.Once
	cachedNAT    NAT
	cachedNATErr error

	discoverGateway = natlib.DiscoverGateway
)

// DiscoverNAT attempts to locate a NAT gateway using UPnP or NAT-PMP.
// The result is cached for the process lifetime to avoid repeated SSDP lookups.
func DiscoverNAT(ctx context.Context) (NAT, error) {
	natOnce.Do(func() {
		c, cancel := context.WithTimeout(ctx, natTimeout)
		defer cancel()
		cachedNAT, cachedNATErr = discoverGateway(c)
	})
	return cachedNAT, cachedNATErr
}

// GetExternalIP returns the external IP address from the discovered NAT device.
func GetExternalIP(ctx context.Context) (net.IP, error) {
	n, err := DiscoverNAT(ctx)
	if err != nil || n == nil {
		return nil, err
	}
	return n.GetExternalAddress()
}

// MaintainPortMapping maps internalPort on the gateway and refreshes the lease
// at half its lifetime until ctx ends, then removes the mapping. Failures are
// logged; the telemetry feed works without a mapping.
func MaintainPortMapping(ctx context.Context, logger *Logger, protocol string, internalPort int) {
	n, err := DiscoverNAT(ctx)
	if err != nil || n == nil {
		logger.Warnf("NAT gateway discovery failed: %v", err)
		return
	}

	mapOnce := func() {
		c, cancel := context.WithTimeout(ctx, natTimeout)
		defer cancel()
		external, err := n.AddPortMapping(c, protocol, internalPort, natMappingPrefix, natMappingLease)
		if err != nil {
			logger.Warnf("NAT port mapping for %s/%d failed: %v", protocol, internalPort, err)
			return
		}
		ip, err := GetExternalIP(ctx)
		if err != nil || ip == nil {
			logger.Infof("NAT mapped %s/%d to external port %d (external address unknown: %v)", protocol, internalPort, external, err)
			return
		}
		logger.Infof("NAT mapped %s/%d; clients can dial %s", protocol, internalPort, net.JoinHostPort(ip.String(), strconv.Itoa(external)))
	}

	mapOnce()
	ticker := time.NewTicker(natMappingLease / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mapOnce()
		case <-ctx.Done():
			c, cancel := context.WithTimeout(context.Background(), natTimeout)
			if err := n.DeletePortMapping(c, protocol, internalPort); err != nil {
				logger.Warnf("NAT mapping removal for %s/%d failed: %v", protocol, internalPort, err)
			}
			cancel()
			return
		}
	}
}
