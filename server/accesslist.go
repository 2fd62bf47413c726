package server

import (
	"net"

	"github.com/yl2chen/cidranger"
)

// accessList is the client source filter. An empty CIDR list allows every
// client.
type accessList struct {
	ranger cidranger.Ranger
	open   bool
}

func newAccessList(cidrs []string) (*accessList, error) {
	a := &accessList{ranger: cidranger.NewPCTrieRanger(), open: len(cidrs) == 0}

	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}

		if err := a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet)); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *accessList) allowed(ip net.IP) bool {
	if a.open {
		return true
	}

	if ip == nil {
		return false
	}

	ok, _ := a.ranger.Contains(ip)

	return ok
}
