/*
Package contract defines the shapes exchanged with the control plane.

It covers the request bodies of the user mutation calls, the response
bodies of every operation, the headers that accompany a start request
(X-Hash-Payload and X-Force-Restart) and the catalogue of known error
codes. Transport is out of scope: this package only encodes and decodes.
*/
package contract
