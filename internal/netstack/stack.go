// Package netstack is an in-process TCP/IP bookkeeping stack. It keeps
// singly linked lists of protocol control blocks and traffic counters behind
// one core lock, the same lock its collectors hold while walking the lists.
package netstack

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

var (
	ErrAddrInUse    = errors.New("netstack: address already in use")
	ErrNotFound     = errors.New("netstack: pcb not found")
	ErrInvalidAddr  = errors.New("netstack: invalid address")
	ErrNotIP        = errors.New("netstack: frame carries no IP packet")
	ErrUnknownProto = errors.New("netstack: unknown protocol")
)

// Proto is the transport protocol of a PCB.
type Proto uint8

const (
	TCP Proto = iota + 1
	UDP
)

func (p Proto) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// PCB is a protocol control block. Its fields are owned by the stack and
// must only be read under the core lock.
type PCB struct {
	proto  Proto
	local  netip.AddrPort
	remote netip.AddrPort
	next   *PCB
}

// Proto returns the PCB's transport protocol.
func (p *PCB) Proto() Proto { return p.proto }

// Stack holds the PCB lists and counters.
type Stack struct {
	core sync.Mutex

	active *PCB // connected TCP
	listen *PCB // listening TCP
	udp    *PCB // bound UDP

	bytesIn    uint32
	bytesOut   uint32
	packetsIn  uint32
	packetsOut uint32
	drops      uint32
}

// New returns an empty stack.
func New() *Stack {
	return &Stack{}
}

// Lock acquires the core lock. Stack, together with Unlock, satisfies
// sync.Locker so embedders can batch their own mutations.
func (s *Stack) Lock() { s.core.Lock() }

// Unlock releases the core lock.
func (s *Stack) Unlock() { s.core.Unlock() }

// Listen binds a listening TCP PCB, or a bound UDP PCB, to local.
func (s *Stack) Listen(proto Proto, local netip.AddrPort) (*PCB, error) {
	if local.Port() == 0 {
		return nil, fmt.Errorf("%w: port 0", ErrInvalidAddr)
	}

	s.core.Lock()
	defer s.core.Unlock()

	var head **PCB
	switch proto {
	case TCP:
		head = &s.listen
	case UDP:
		head = &s.udp
	default:
		return nil, ErrUnknownProto
	}
	for p := *head; p != nil; p = p.next {
		if p.local.Port() == local.Port() && overlaps(p.local.Addr(), local.Addr()) {
			return nil, fmt.Errorf("%w: %s/%s", ErrAddrInUse, proto, local)
		}
	}

	pcb := &PCB{proto: proto, local: local}
	push(head, pcb)
	return pcb, nil
}

// Connect registers an established TCP connection between local and remote.
func (s *Stack) Connect(local, remote netip.AddrPort) (*PCB, error) {
	if !local.IsValid() || !remote.IsValid() {
		return nil, ErrInvalidAddr
	}

	s.core.Lock()
	defer s.core.Unlock()

	for p := s.active; p != nil; p = p.next {
		if p.local == local && p.remote == remote {
			return nil, fmt.Errorf("%w: %s -> %s", ErrAddrInUse, local, remote)
		}
	}

	pcb := &PCB{proto: TCP, local: local, remote: remote}
	push(&s.active, pcb)
	return pcb, nil
}

// Close unlinks pcb from whichever list holds it.
func (s *Stack) Close(pcb *PCB) error {
	s.core.Lock()
	defer s.core.Unlock()

	for _, head := range []**PCB{&s.active, &s.listen, &s.udp} {
		if unlink(head, pcb) {
			pcb.next = nil
			return nil
		}
	}
	return ErrNotFound
}

// Disconnect removes the established connection between local and remote.
func (s *Stack) Disconnect(local, remote netip.AddrPort) error {
	s.core.Lock()
	defer s.core.Unlock()

	for p := s.active; p != nil; p = p.next {
		if p.local == local && p.remote == remote {
			unlink(&s.active, p)
			p.next = nil
			return nil
		}
	}
	return ErrNotFound
}

// push prepends pcb, matching the order a real stack registers PCBs in.
func push(head **PCB, pcb *PCB) {
	pcb.next = *head
	*head = pcb
}

func unlink(head **PCB, pcb *PCB) bool {
	for pp := head; *pp != nil; pp = &(*pp).next {
		if *pp == pcb {
			*pp = pcb.next
			return true
		}
	}
	return false
}

// overlaps reports whether two bind addresses collide. An unspecified or
// invalid address is a wildcard.
func overlaps(a, b netip.Addr) bool {
	if !a.IsValid() || !b.IsValid() || a.IsUnspecified() || b.IsUnspecified() {
		return true
	}
	return a == b
}
