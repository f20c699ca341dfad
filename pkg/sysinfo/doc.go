// Package sysinfo reports the host CPU and memory summary sent back on
// every successful engine start.
package sysinfo
