// Package xrayconfig inspects and extends engine configurations.
//
// Configurations are opaque JSON objects owned by the control plane. The
// node only needs to read inbound tags and client ids out of them, and to
// install the admin API listener it uses to manage users at runtime.
package xrayconfig
