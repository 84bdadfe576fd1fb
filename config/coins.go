package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssetEntry is one element of the coins list: the coin identifier and the
// tags configured for it.
type AssetEntry struct {
	ID   string
	Tags map[string]string
}

// CoinDocument is a decoded coin list file. The coins node is kept raw so
// that shape problems are reported with the offending element.
type CoinDocument struct {
	Coins yaml.Node `yaml:"coins"`
}

// ParseError reports a coin document whose shape cannot be trusted. It is
// never recoverable: a bad coin list would corrupt every metric tag.
type ParseError struct {
	// Index of the offending element, -1 when the coins value itself is wrong.
	Index  int
	Reason string
	Value  string
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid coin document: %s (current value: %s)", e.Reason, e.Value)
	}
	return fmt.Sprintf("invalid coin document: item %d: %s (current value: %s)", e.Index, e.Reason, e.Value)
}

// ParseCoinDocument decodes YAML bytes into a CoinDocument.
func ParseCoinDocument(data []byte) (*CoinDocument, error) {
	var doc CoinDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse coin document: %w", err)
	}
	return &doc, nil
}

// LoadCoinDocument reads and decodes the coin document at path.
func LoadCoinDocument(path string) (*CoinDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coin document: %w", err)
	}
	return ParseCoinDocument(data)
}

// Entries validates the document and returns its entries in document order.
// Every element must be a mapping with exactly one key.
func (d *CoinDocument) Entries() ([]AssetEntry, error) {
	coins := &d.Coins
	if coins.Kind == yaml.AliasNode && coins.Alias != nil {
		coins = coins.Alias
	}
	if coins.Kind != yaml.SequenceNode {
		return nil, &ParseError{Index: -1, Reason: "coins is not a list", Value: describeNode(coins)}
	}

	entries := make([]AssetEntry, 0, len(coins.Content))
	for i, item := range coins.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, &ParseError{Index: i, Reason: "item should be a mapping with one key only", Value: describeNode(item)}
		}
		key, value := item.Content[0], item.Content[1]
		if key.Kind != yaml.ScalarNode {
			return nil, &ParseError{Index: i, Reason: "coin key should be a scalar", Value: describeNode(item)}
		}
		entries = append(entries, AssetEntry{ID: key.Value, Tags: decodeTags(value)})
	}
	return entries, nil
}

// CoinList returns the coin identifiers in document order. Duplicates are
// passed through.
func (d *CoinDocument) CoinList() ([]string, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// TagsForCoin returns the tags of the first entry named coin. A coin with no
// tags, or no entry at all, yields an empty map rather than an error.
func (d *CoinDocument) TagsForCoin(coin string) (map[string]string, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == coin {
			return e.Tags, nil
		}
	}
	return map[string]string{}, nil
}

// GetCoinList returns the identifiers of doc, see CoinDocument.CoinList.
func GetCoinList(doc *CoinDocument) ([]string, error) {
	return doc.CoinList()
}

// GetTagsForCoin returns the tags of coin in doc, see CoinDocument.TagsForCoin.
func GetTagsForCoin(doc *CoinDocument, coin string) (map[string]string, error) {
	return doc.TagsForCoin(coin)
}

// TagLookup builds a lookup over validated entries, first match wins.
func TagLookup(entries []AssetEntry) func(string) map[string]string {
	index := make(map[string]map[string]string, len(entries))
	for _, e := range entries {
		if _, ok := index[e.ID]; !ok {
			index[e.ID] = e.Tags
		}
	}
	return func(id string) map[string]string {
		return index[id]
	}
}

func decodeTags(value *yaml.Node) map[string]string {
	tags := map[string]string{}
	if value == nil || value.Kind != yaml.MappingNode {
		return tags
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value != "tags" {
			continue
		}
		var decoded map[string]string
		if err := value.Content[i+1].Decode(&decoded); err != nil || decoded == nil {
			return tags
		}
		return decoded
	}
	return tags
}

func describeNode(n *yaml.Node) string {
	if n == nil || n.Kind == 0 {
		return "<missing>"
	}
	out, err := yaml.Marshal(n)
	if err != nil {
		return n.Value
	}
	return strings.TrimSpace(string(out))
}
