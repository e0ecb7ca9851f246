//go:build !unix

package sysinfo

import "errors"

func uname() (release, machine string, err error) {
	return "", "", errors.New("uname isn't available on this platform")
}
