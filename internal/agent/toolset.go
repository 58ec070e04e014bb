package agent

import (
	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/indexer"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/regulatory/aps"
	"github.com/openregs/regassist/internal/regulatory/cfr"
	"github.com/openregs/regassist/internal/regulatory/drs"
	"github.com/openregs/regassist/internal/searchclient"
	"github.com/openregs/regassist/internal/storage"
	"github.com/openregs/regassist/internal/tools"
)

// Deps bundles every shared, process-wide dependency a tool may need.
// BuildToolSet wires them into the fixed catalog once; every agent that
// names a tool shares this single implementation instance.
type Deps struct {
	Storage     *storage.Store
	Cache       *cache.Cache
	Indexer     *indexer.Indexer
	LLM         *llm.Client
	EmbedModel  string
	SearchProxy *searchclient.Client
	CFR         *cfr.Client
	DRS         *drs.Client
	APS         *aps.Client
}

// BuildToolSet constructs every tool in the catalog, wired against deps.
// Tools sharing state (the personal-document memo) are given the same
// instance so a fetch and a subsequent search see each other's writes. The
// memo store is also returned so callers can evict a conversation's entries
// when that conversation ends.
func BuildToolSet(deps Deps) (ToolSet, *tools.MemoStore) {
	memo := tools.NewMemoStore()

	catalog := []tools.Tool{
		&tools.SearchIndexedContent{LLM: deps.LLM, EmbedModel: deps.EmbedModel, SearchProxy: deps.SearchProxy},
		&tools.FetchCFRSection{Cache: deps.Cache, CFR: deps.CFR, Scheduler: deps.Indexer},
		&tools.SearchDRS{DRS: deps.DRS},
		&tools.FetchDRSDocument{Cache: deps.Cache, DRS: deps.DRS, Scheduler: deps.Indexer},
		&tools.SearchAPS{APS: deps.APS},
		&tools.FetchAPSDocument{Cache: deps.Cache, APS: deps.APS, Scheduler: deps.Indexer},
		&tools.ListMyDocuments{Storage: deps.Storage},
		&tools.FetchPersonalDocument{Storage: deps.Storage, Memo: memo},
		&tools.SearchPersonalDocument{Storage: deps.Storage, Memo: memo, LLM: deps.LLM, EmbedModel: deps.EmbedModel},
		&tools.DeleteMyDocument{Storage: deps.Storage, SearchProxy: deps.SearchProxy, Memo: memo},
	}

	set := make(ToolSet, len(catalog))
	for _, t := range catalog {
		set[t.Name()] = t
	}
	return set, memo
}
