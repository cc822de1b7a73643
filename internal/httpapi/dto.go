package httpapi

import (
	"time"

	"NewsDigest/internal/domain"
)

type jobResponse struct {
	ID            string           `json:"id"`
	Status        domain.JobStatus `json:"status"`
	Sources       []string         `json:"sources"`
	Params        domain.JobParams `json:"params"`
	TotalSources  int              `json:"total_sources"`
	DoneSources   int              `json:"done_sources"`
	Ingested      int              `json:"ingested"`
	ErrorsCount   int              `json:"errors_count"`
	LinksTotal    int              `json:"links_total"`
	ArticlesTotal int              `json:"articles_total"`
	Message       string           `json:"message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func toJob(j domain.Job) jobResponse {
	return jobResponse{
		ID:            j.ID,
		Status:        j.Status,
		Sources:       j.Sources,
		Params:        j.Params,
		TotalSources:  j.TotalSources,
		DoneSources:   j.DoneSources,
		Ingested:      j.Ingested,
		ErrorsCount:   j.ErrorsCount,
		LinksTotal:    j.LinksTotal,
		ArticlesTotal: j.ArticlesTotal,
		Message:       j.Message,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

type progressResponse struct {
	State           domain.SourceState `json:"state"`
	LinksFound      int                `json:"links_found"`
	ArticlesFetched int                `json:"articles_fetched"`
	Inserted        int                `json:"inserted"`
	Duplicates      int                `json:"duplicates"`
	Errors          int                `json:"errors"`
	LastError       string             `json:"last_error,omitempty"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	FinishedAt      *time.Time         `json:"finished_at,omitempty"`
}

type jobDetailResponse struct {
	Job     jobResponse                 `json:"job"`
	Sources map[string]progressResponse `json:"sources"`
	Errors  []domain.JobErrorEntry      `json:"errors"`
}

func toJobDetail(d domain.JobDetail) jobDetailResponse {
	out := jobDetailResponse{
		Job:     toJob(d.Job),
		Sources: make(map[string]progressResponse, len(d.Sources)),
		Errors:  d.Errors,
	}
	if out.Errors == nil {
		out.Errors = []domain.JobErrorEntry{}
	}
	for name, p := range d.Sources {
		out.Sources[name] = progressResponse{
			State:           p.State,
			LinksFound:      p.LinksFound,
			ArticlesFetched: p.ArticlesFetched,
			Inserted:        p.Inserted,
			Duplicates:      p.Duplicates,
			Errors:          p.Errors,
			LastError:       p.LastError,
			StartedAt:       p.StartedAt,
			FinishedAt:      p.FinishedAt,
		}
	}
	return out
}

type analysisResponse struct {
	InterestScore int       `json:"interest_score"`
	TitleShort    string    `json:"title_short,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type newsResponse struct {
	ID            int64             `json:"id"`
	SourceName    string            `json:"source_name"`
	URL           string            `json:"url"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	PublishedAt   *time.Time        `json:"published_at"`
	FetchedAt     time.Time         `json:"fetched_at"`
	BusinessScore int               `json:"business_score"`
	DFOScore      int               `json:"dfo_score"`
	HasCompany    bool              `json:"has_company"`
	Reasons       map[string]int    `json:"reasons,omitempty"`
	Analysis      *analysisResponse `json:"analysis,omitempty"`
}

func toNews(items []domain.NewsItem) []newsResponse {
	out := make([]newsResponse, 0, len(items))
	for _, it := range items {
		n := newsResponse{
			ID:            it.ID,
			SourceName:    it.SourceName,
			URL:           it.URL,
			Title:         it.Title,
			Body:          it.Body,
			PublishedAt:   it.PublishedAt,
			FetchedAt:     it.FetchedAt,
			BusinessScore: it.BusinessScore,
			DFOScore:      it.DFOScore,
			HasCompany:    it.HasCompany,
			Reasons:       it.Reasons,
		}
		if a := it.Analysis; a != nil {
			n.Analysis = &analysisResponse{InterestScore: a.InterestScore, TitleShort: a.TitleShort, Summary: a.Summary, CreatedAt: a.CreatedAt}
		}
		out = append(out, n)
	}
	return out
}

type digestItemResponse struct {
	Rank          int        `json:"rank"`
	ItemID        int64      `json:"item_id"`
	SourceName    string     `json:"source_name"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	PublishedAt   *time.Time `json:"published_at"`
	BusinessScore int        `json:"business_score"`
	DFOScore      int        `json:"dfo_score"`
	InterestScore int        `json:"interest_score"`
}

type digestResponse struct {
	Day         string                   `json:"day"`
	Status      domain.DigestStatus      `json:"status"`
	ItemsCount  int                      `json:"items_count"`
	Params      domain.DigestParams      `json:"params"`
	Diagnostics domain.DigestDiagnostics `json:"diagnostics"`
	Script      []domain.ScriptSegment   `json:"script,omitempty"`
	ScriptModel string                   `json:"script_model,omitempty"`
	Items       []digestItemResponse     `json:"items,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

func toDigest(d domain.Digest) digestResponse {
	out := digestResponse{
		Day:         d.Day.Format(domain.DayLayout),
		Status:      d.Status,
		ItemsCount:  d.ItemsCount,
		Params:      d.Params,
		Diagnostics: d.Diagnostics,
		Script:      d.Script,
		ScriptModel: d.ScriptModel,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, it := range d.Items {
		out.Items = append(out.Items, digestItemResponse{
			Rank:          it.Rank,
			ItemID:        it.ItemID,
			SourceName:    it.SourceName,
			Title:         it.Title,
			URL:           it.URL,
			PublishedAt:   it.PublishedAt,
			BusinessScore: it.BusinessScore,
			DFOScore:      it.DFOScore,
			InterestScore: it.InterestScore,
		})
	}
	return out
}
