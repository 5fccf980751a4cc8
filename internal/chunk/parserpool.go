package chunk

import (
	"context"
	"sync"
)

// ParserPool amortizes tree-sitter parser construction across files.
// Parsers are expensive to build, so a free list per language lends one
// out for the duration of a parse and takes it back afterwards. A parser
// is only ever used by one goroutine at a time; the pool itself is safe
// for concurrent use.
type ParserPool struct {
	registry *LanguageRegistry
	pools    sync.Map // language name -> *langPool
}

// langPool is the per-language free list. Capacity bounds how many idle
// parsers we keep; extra returns are dropped and closed.
type langPool struct {
	free chan *Parser
}

const parsersPerLanguage = 8

// NewParserPool creates a pool backed by the default language registry.
func NewParserPool() *ParserPool {
	return NewParserPoolWithRegistry(DefaultRegistry())
}

// NewParserPoolWithRegistry creates a pool backed by the given registry.
func NewParserPoolWithRegistry(registry *LanguageRegistry) *ParserPool {
	return &ParserPool{registry: registry}
}

// Parse borrows a parser for language, parses source, and returns the
// parser to the pool. The returned Tree is independent of the parser and
// stays valid after return.
func (p *ParserPool) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	parser := p.acquire(language)
	defer p.release(language, parser)
	return parser.Parse(ctx, source, language)
}

// Supported reports whether a tree-sitter grammar is registered for the
// language.
func (p *ParserPool) Supported(language string) bool {
	_, ok := p.registry.GetTreeSitterLanguage(language)
	return ok
}

// Registry exposes the language registry backing this pool.
func (p *ParserPool) Registry() *LanguageRegistry {
	return p.registry
}

func (p *ParserPool) acquire(language string) *Parser {
	lp := p.poolFor(language)
	select {
	case parser := <-lp.free:
		return parser
	default:
		return NewParserWithRegistry(p.registry)
	}
}

func (p *ParserPool) release(language string, parser *Parser) {
	lp := p.poolFor(language)
	select {
	case lp.free <- parser:
	default:
		parser.Close()
	}
}

func (p *ParserPool) poolFor(language string) *langPool {
	if v, ok := p.pools.Load(language); ok {
		return v.(*langPool)
	}
	v, _ := p.pools.LoadOrStore(language, &langPool{
		free: make(chan *Parser, parsersPerLanguage),
	})
	return v.(*langPool)
}

// Close drains and closes every idle parser. In-flight parsers are closed
// when released.
func (p *ParserPool) Close() {
	p.pools.Range(func(key, value any) bool {
		lp := value.(*langPool)
		for {
			select {
			case parser := <-lp.free:
				parser.Close()
			default:
				return true
			}
		}
	})
}
