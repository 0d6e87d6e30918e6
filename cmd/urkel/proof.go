package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"go.urkel.dev/urkel"
	"go.urkel.dev/urkel/internal/config"
)

// proofJSON is the wire format urkel prove/verify read and write. It is not
// part of the urkel package's API: proof serialization is a CLI concern, not
// a trie-engine one.
type proofJSON struct {
	Type     string   `json:"type"`
	Siblings []string `json:"siblings,omitempty"`
	Key      string   `json:"key,omitempty"`
	Hash     string   `json:"hash,omitempty"`
	Value    []byte   `json:"value,omitempty"`
}

func encodeProof(p *urkel.Proof) proofJSON {
	out := proofJSON{Type: p.Type.String(), Value: p.Value}
	for _, s := range p.Siblings {
		out.Siblings = append(out.Siblings, hex.EncodeToString(s[:]))
	}
	if p.Type == urkel.Collision {
		out.Key = hex.EncodeToString(p.Key[:])
		out.Hash = hex.EncodeToString(p.Hash[:])
	}
	return out
}

func decodeProof(j proofJSON) (*urkel.Proof, error) {
	p := &urkel.Proof{Value: j.Value}
	switch j.Type {
	case "exists":
		p.Type = urkel.Exists
	case "collision":
		p.Type = urkel.Collision
	case "deadend":
		p.Type = urkel.Deadend
	default:
		return nil, fmt.Errorf("unknown proof type %q", j.Type)
	}
	for _, s := range j.Siblings {
		d, err := decodeDigest(s)
		if err != nil {
			return nil, fmt.Errorf("sibling: %w", err)
		}
		p.Siblings = append(p.Siblings, d)
	}
	if j.Key != "" {
		d, err := decodeDigest(j.Key)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		p.Key = d
	}
	if j.Hash != "" {
		d, err := decodeDigest(j.Hash)
		if err != nil {
			return nil, fmt.Errorf("hash: %w", err)
		}
		p.Hash = d
	}
	return p, nil
}

func decodeDigest(s string) (urkel.Digest, error) {
	var d urkel.Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != urkel.DigestSize {
		return d, fmt.Errorf("digest is %d bytes, want %d", len(b), urkel.DigestSize)
	}
	copy(d[:], b)
	return d, nil
}

func cmdProve(args []string, cfg *config.File) {
	fs, db := dbFlagSet("prove", cfg)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: urkel prove -db <dir> <key>")
		os.Exit(2)
	}
	t, s, err := openTree(*db, nil)
	if err != nil {
		fatal("prove", "err", err)
	}
	defer s.Close()

	p, err := t.Prove([]byte(rest[0]))
	if err != nil {
		fatal("prove", "err", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(encodeProof(p)); err != nil {
		fatal("prove", "err", err)
	}
}

// rootArg resolves a root-hex command-line argument. A leading "@" means
// "read the hex from this file instead", so scripts can pipe the output of
// "urkel root" straight into "urkel verify" without a shell.
func rootArg(arg string) (urkel.Digest, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return urkel.Digest{}, err
		}
		arg = strings.TrimSpace(string(data))
	}
	return decodeDigest(arg)
}

func cmdVerify(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: urkel verify <root-hex-or-@file> <key> <proof-file>")
		os.Exit(2)
	}
	root, err := rootArg(args[0])
	if err != nil {
		fatal("verify", "err", err)
	}
	data, err := os.ReadFile(args[2])
	if err != nil {
		fatal("verify", "err", err)
	}
	var j proofJSON
	if err := json.Unmarshal(data, &j); err != nil {
		fatal("verify", "err", err)
	}
	p, err := decodeProof(j)
	if err != nil {
		fatal("verify", "err", err)
	}
	val, err := p.Verify(root, []byte(args[1]))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if p.Type == urkel.Exists {
		os.Stdout.Write(val)
		fmt.Println()
	} else {
		fmt.Println("absent")
	}
}

// manifestEntry is one line of a verify-batch manifest: "<key>\t<proof-file>".
type manifestEntry struct {
	key       string
	proofPath string
}

func parseManifest(path string) ([]manifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []manifestEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, proofPath, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("malformed manifest line: %q", line)
		}
		entries = append(entries, manifestEntry{key: key, proofPath: proofPath})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// cmdVerifyBatch verifies every entry of a manifest concurrently, the way
// the teacher's tlogclient fans out fetches across an errgroup.
func cmdVerifyBatch(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: urkel verify-batch <root-hex-or-@file> <manifest-file>")
		os.Exit(2)
	}
	root, err := rootArg(args[0])
	if err != nil {
		fatal("verify-batch", "err", err)
	}
	entries, err := parseManifest(args[1])
	if err != nil {
		fatal("verify-batch", "err", err)
	}

	results := make([]bool, len(entries))
	var g errgroup.Group
	g.SetLimit(16)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			data, err := os.ReadFile(e.proofPath)
			if err != nil {
				return fmt.Errorf("%s: %w", e.proofPath, err)
			}
			var j proofJSON
			if err := json.Unmarshal(data, &j); err != nil {
				return fmt.Errorf("%s: %w", e.proofPath, err)
			}
			p, err := decodeProof(j)
			if err != nil {
				return fmt.Errorf("%s: %w", e.proofPath, err)
			}
			if _, err := p.Verify(root, []byte(e.key)); err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			results[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fatal("verify-batch", "err", err)
	}

	ok := 0
	for _, r := range results {
		if r {
			ok++
		}
	}
	fmt.Printf("%d/%d proofs verified\n", ok, len(entries))
}
