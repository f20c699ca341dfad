/*
Package hashset provides an incrementally hashed set of identifiers.

A Set answers one question cheaply: do two parties hold the same set of
user credentials for an inbound? Instead of shipping full user lists,
the control plane sends a digest per inbound and the node compares it
with its own.

# Digest

Each identifier is hashed with BLAKE3 and the first 16 bytes are read
as a 128-bit integer. The set digest is the sum of these integers modulo
2^128:

	digest(S) = Σ blake3(id)[0:16]  (mod 2^128)

Because addition is commutative the digest depends only on membership,
and because it has an inverse Remove subtracts exactly what Add added.
Both operations are O(1); the digest is never recomputed from scratch.

The set keeps its members so that adding a present identifier or
removing an absent one leaves the digest untouched.

# Usage

	s := hashset.New("uuid-1", "uuid-2")
	s.Add("uuid-3")
	s.Remove("uuid-1")
	fmt.Println(s.Size(), s.Digest())
*/
package hashset
