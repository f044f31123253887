// enumerate.go - concurrent zone/partition discovery run once at
// Connect time, querying every possible id up to the panel's
// capability limits and keeping only the ones that answer.

package risco

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-risco/risco/wire"
)

// isOperationError reports whether err is a per-command failure the
// panel itself reported (a corrupt reply or an N/B error code), as
// opposed to a connection-level failure (timeout, context
// cancellation, lost connection) that should abort enumeration
// entirely rather than just skip the id being probed.
func isOperationError(err error) bool {
	return errors.Cause(err) == wire.ErrOperation
}

// initZones queries ZTYPE*/ZLNKTYP/ZSTT*/ZLBL*/ZPART&*/ZAREA&* for
// every zone id up to MaxZones, discarding ids the panel doesn't
// have configured (zone type 0, wireless-absent tech, or a status
// that reports the zone as not installed).
func (p *Panel) initZones(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	zones := make(map[int]*Zone)
	var firstErr error

	for id := 1; id <= p.caps.MaxZones; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			z, err := p.createZone(ctx, id)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if z == nil {
				return
			}
			mu.Lock()
			zones[id] = z
			mu.Unlock()
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return translateWireErr(firstErr)
	}

	p.mu.Lock()
	p.zones = zones
	p.mu.Unlock()
	return nil
}

// initPartitions queries PSTT*/PLBL* for every partition id up to
// MaxParts, discarding ids the panel doesn't have configured.
func (p *Panel) initPartitions(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	partitions := make(map[int]*Partition)
	var firstErr error

	for id := 1; id <= p.caps.MaxParts; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			part, err := p.createPartition(ctx, id)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if part == nil {
				return
			}
			mu.Lock()
			partitions[id] = part
			mu.Unlock()
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return translateWireErr(firstErr)
	}

	p.mu.Lock()
	p.partitions = partitions
	p.mu.Unlock()
	return nil
}

func (p *Panel) createPartition(ctx context.Context, id int) (*Partition, error) {
	status, err := p.session.SendResult(ctx, "PSTT"+strconv.Itoa(id)+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}
	if !strings.Contains(status, "E") {
		return nil, nil
	}

	label, err := p.session.SendResult(ctx, "PLBL"+strconv.Itoa(id)+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}
	return newPartition(p, id, label, status), nil
}

func (p *Panel) createZone(ctx context.Context, id int) (*Zone, error) {
	idStr := strconv.Itoa(id)

	zoneTypeStr, err := p.session.SendResult(ctx, "ZTYPE*"+idStr+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}
	zoneType, err := strconv.Atoi(strings.TrimSpace(zoneTypeStr))
	if err != nil || zoneType == 0 {
		return nil, nil
	}

	tech, err := p.session.SendResult(ctx, "ZLNKTYP"+idStr+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(tech) == "N" {
		return nil, nil
	}

	status, err := p.session.SendResult(ctx, "ZSTT*"+idStr+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}
	if strings.HasSuffix(status, "N") {
		return nil, nil
	}

	label, err := p.session.SendResult(ctx, "ZLBL*"+idStr+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}
	partitionsRaw, err := p.session.SendResult(ctx, "ZPART&*"+idStr+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}
	groupsRaw, err := p.session.SendResult(ctx, "ZAREA&*"+idStr+"?")
	if err != nil {
		if isOperationError(err) {
			return nil, nil
		}
		return nil, err
	}

	return newZone(p, id, label, zoneType, status, parsePartitionMask(partitionsRaw), parseGroupMask(groupsRaw)), nil
}
