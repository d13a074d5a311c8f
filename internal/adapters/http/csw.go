package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/owsgate/internal/domain"
)

// maxDocumentSize bounds JSON request documents.
const maxDocumentSize = 8 << 20

// handleCSW dispatches catalog requests.
func (s *Server) handleCSW(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method == http.MethodPost && isJSON(r.Header.Get("Content-Type")) {
		s.handleCSWDocument(w, r)
		return
	}

	p, err := requestKVP(r)
	if err == nil {
		err = checkService(p, "CSW")
	}
	if err != nil {
		s.writeException(w, r, err)
		return
	}

	switch request := p.get("request"); strings.ToLower(request) {
	case "getcapabilities":
		s.cswGetCapabilities(w, r, p)
	case "describerecord":
		s.cswDescribeRecord(w, r, p)
	case "getrecords":
		s.cswGetRecords(w, r, p)
	case "getrecordbyid":
		s.cswGetRecordByID(w, r, p)
	case "getdomain":
		s.cswGetDomain(w, r, p)
	case "harvest":
		s.cswHarvest(w, r, p)
	case "directdownload":
		s.cswDirectDownload(w, r, p)
	case "transaction":
		s.writeException(w, r, domain.InvalidParameter("request", "Transaction takes a JSON document sent with POST"))
	case "":
		s.writeException(w, r, domain.MissingParameter("request"))
	default:
		s.writeException(w, r, operationNotSupported(request))
	}
}

func (s *Server) cswGetCapabilities(w http.ResponseWriter, r *http.Request, p kvp) {
	caps, err := s.catalog.GetCapabilities(r.Context(), domain.CapabilitiesRequest{
		AcceptVersions: p.list("acceptVersions"),
		Sections:       p.list("sections"),
		BaseURL:        s.serviceURL("/csw"),
	})
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCapabilities(caps))
}

func (s *Server) cswDescribeRecord(w http.ResponseWriter, r *http.Request, p kvp) {
	res, err := s.catalog.DescribeType(r.Context(), domain.DescribeTypeRequest{
		TypeNames:      p.qnames(p.namespaces(), "typeName", "typeNames"),
		SchemaLanguage: p.get("schemaLanguage"),
		OutputFormat:   p.get("outputFormat"),
	})
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDescribe(res))
}

func (s *Server) cswGetRecords(w http.ResponseWriter, r *http.Request, p kvp) {
	req, err := getRecordsRequest(p)
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	res, err := s.catalog.Query(r.Context(), req)
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	body, err := newSearchResults(res)
	if err != nil {
		s.writeException(w, r, domain.NoApplicableCode("encoding records", err))
		return
	}
	s.writeJSON(w, http.StatusOK, body)
}

// getRecordsRequest binds the GetRecords parameters. Without element names
// or an element set the summary profile is returned.
func getRecordsRequest(p kvp) (domain.QueryRequest, error) {
	ns := p.namespaces()
	req := domain.QueryRequest{
		TypeNames:    p.qnames(ns, "typeNames", "typeName"),
		ElementNames: p.qnames(ns, "elementName"),
		OutputSchema: p.get("outputSchema"),
	}

	var err error
	if req.ResultType, err = domain.ParseResultType(p.get("resultType")); err != nil {
		return req, err
	}
	if set := p.get("ElementSetName"); set != "" {
		if len(req.ElementNames) > 0 {
			return req, domain.InvalidParameter("ElementSetName", "ElementSetName and ElementName are mutually exclusive")
		}
		if req.ElementSet, err = domain.ParseElementSet(set); err != nil {
			return req, err
		}
	} else if len(req.ElementNames) == 0 {
		req.ElementSet = domain.ElementSetSummary
	}
	if req.MaxRecords, err = p.intValue("maxRecords"); err != nil {
		return req, err
	}
	if req.StartPosition, err = p.intValue("startPosition"); err != nil {
		return req, err
	}
	if req.SortBy, err = parseSortBy(p.get("sortBy"), "sortBy"); err != nil {
		return req, err
	}
	req.Filter, err = constraint(p)
	return req, err
}

// constraint parses the CONSTRAINT parameter. Only CQL text can be sent as
// a key-value pair.
func constraint(p kvp) (domain.Filter, error) {
	text := p.get("constraint")
	lang := p.get("constraintLanguage")
	if text == "" {
		return nil, nil
	}
	switch strings.ToUpper(lang) {
	case "", "CQL_TEXT":
	case "FILTER":
		return nil, domain.InvalidParameter("constraintLanguage", "FILTER constraints are not accepted as key-value pairs, use CQL_TEXT")
	default:
		return nil, domain.InvalidParameter("constraintLanguage", "unknown constraint language %q", lang)
	}
	f, err := ParseCQL(text)
	if err != nil {
		return nil, domain.InvalidParameter("constraint", "invalid CQL: %v", err)
	}
	return f, nil
}

func (s *Server) cswGetRecordByID(w http.ResponseWriter, r *http.Request, p kvp) {
	req := domain.QueryByIDRequest{
		IDs:          p.list("id"),
		OutputSchema: p.get("outputSchema"),
	}
	if set := p.get("ElementSetName"); set != "" {
		var err error
		if req.ElementSet, err = domain.ParseElementSet(set); err != nil {
			s.writeException(w, r, err)
			return
		}
	}
	res, err := s.catalog.QueryByID(r.Context(), req)
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	recs, err := collectRecords(res.Records)
	if err != nil {
		s.writeException(w, r, domain.NoApplicableCode("encoding records", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":      "2.0.2",
		"elementSet":   res.ElementSet,
		"recordSchema": res.OutputSchema,
		"records":      recs,
	})
}

func (s *Server) cswGetDomain(w http.ResponseWriter, r *http.Request, p kvp) {
	values, err := s.catalog.GetDomain(r.Context(), domain.DomainRequest{
		ParameterNames: p.list("parameterName"),
		PropertyNames:  p.list("propertyName"),
	})
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(values))
	for _, v := range values {
		item := map[string]interface{}{"values": v.Values}
		if v.ParameterName != "" {
			item["parameterName"] = v.ParameterName
		}
		if v.PropertyName != "" {
			item["propertyName"] = v.PropertyName
		}
		out = append(out, item)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"domainValues": out})
}

func (s *Server) cswHarvest(w http.ResponseWriter, r *http.Request, p kvp) {
	err := s.catalog.Harvest(r.Context(), domain.HarvestRequest{
		Source:       p.get("source"),
		ResourceType: p.get("resourceType"),
	})
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) cswDirectDownload(w http.ResponseWriter, r *http.Request, p kvp) {
	req := domain.DirectDownloadRequest{
		ResourceID: p.get("resourceId"),
		FileID:     p.get("fileId"),
	}
	dl, err := s.catalog.DirectDownload(r.Context(), req)
	if err != nil {
		s.writeException(w, r, err)
		return
	}

	if dl.Reader == nil {
		links := make([]downloadLinkJSON, 0, len(dl.Links))
		for _, l := range dl.Links {
			links = append(links, downloadLinkJSON{
				ResourceID: l.ResourceID,
				FileID:     l.FileID,
				Name:       l.Name,
				Size:       l.Size,
				Href:       s.downloadURL(l),
			})
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"resourceId": req.ResourceID,
			"files":      links,
		})
		return
	}

	defer func() { _ = dl.Reader.Close() }()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Reader); err != nil {
		s.logger.Warn("download interrupted",
			"resource", req.ResourceID,
			"file", dl.Name,
			"error", err,
		)
	}
}

func (s *Server) downloadURL(l domain.DownloadLink) string {
	q := url.Values{}
	q.Set("service", "CSW")
	q.Set("request", "DirectDownload")
	q.Set("resourceId", l.ResourceID)
	q.Set("fileId", l.FileID)
	return s.serviceURL("/csw") + "?" + q.Encode()
}

// transactionDocument is the JSON body of a Transaction.
//
//	{"request": "Transaction", "actions": [
//	  {"kind": "insert", "typeName": "csw:Record", "records": [{"id": "r1", "properties": {"title": "A"}}]},
//	  {"kind": "update", "typeName": "csw:Record", "constraint": "identifier = 'r1'", "set": {"title": "B"}},
//	  {"kind": "delete", "typeName": "csw:Record", "constraint": "identifier = 'r1'"}
//	]}
type transactionDocument struct {
	Request    string            `json:"request"`
	Namespaces map[string]string `json:"namespaces"`
	Actions    []actionDocument  `json:"actions"`
}

type actionDocument struct {
	Kind       string           `json:"kind"`
	TypeName   string           `json:"typeName"`
	Records    []recordDocument `json:"records"`
	Constraint string           `json:"constraint"`
	Set        map[string]any   `json:"set"`
}

type recordDocument struct {
	ID         string          `json:"id"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// handleCSWDocument handles JSON request documents sent with POST.
func (s *Server) handleCSWDocument(w http.ResponseWriter, r *http.Request) {
	var doc transactionDocument
	dec := json.NewDecoder(io.LimitReader(r.Body, maxDocumentSize))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		s.writeException(w, r, domain.InvalidParameter("request", "invalid JSON document: %v", err))
		return
	}
	if doc.Request == "" {
		s.writeException(w, r, domain.MissingParameter("request"))
		return
	}
	if !strings.EqualFold(doc.Request, "Transaction") {
		s.writeException(w, r, operationNotSupported(doc.Request))
		return
	}

	req, err := doc.transaction()
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	res, err := s.catalog.Transaction(r.Context(), req)
	if err != nil {
		s.writeException(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transactionJSON{
		TotalInserted: res.Inserted,
		TotalUpdated:  res.Updated,
		TotalDeleted:  res.Deleted,
		InsertedIDs:   res.InsertedIDs,
	})
}

func (doc transactionDocument) transaction() (domain.TransactionRequest, error) {
	ns := make(map[string]string, len(defaultNamespaces)+len(doc.Namespaces))
	for k, v := range defaultNamespaces {
		ns[k] = v
	}
	for k, v := range doc.Namespaces {
		ns[k] = v
	}

	var req domain.TransactionRequest
	for i, a := range doc.Actions {
		if a.TypeName == "" {
			return req, domain.MissingParameter(fmt.Sprintf("actions[%d].typeName", i))
		}
		action := domain.TransactionAction{
			Kind:     domain.TransactionKind(strings.ToLower(a.Kind)),
			TypeName: domain.ParseQName(a.TypeName, ns),
			Set:      numbersToFloat(a.Set),
		}
		switch action.Kind {
		case domain.TransactionInsert:
			for _, rd := range a.Records {
				rec, err := rd.record()
				if err != nil {
					return req, err
				}
				action.Records = append(action.Records, rec)
			}
		case domain.TransactionUpdate, domain.TransactionDelete:
			if a.Constraint != "" {
				f, err := ParseCQL(a.Constraint)
				if err != nil {
					return req, domain.InvalidParameter("constraint", "invalid CQL: %v", err)
				}
				action.Filter = f
			}
		default:
			return req, domain.InvalidParameter(fmt.Sprintf("actions[%d].kind", i), "unknown action %q", a.Kind)
		}
		req.Actions = append(req.Actions, action)
	}
	return req, nil
}

func (rd recordDocument) record() (domain.Record, error) {
	rec := domain.Record{ID: rd.ID, Properties: numbersToFloat(rd.Properties)}
	if rec.Properties == nil {
		rec.Properties = map[string]any{}
	}
	if len(rd.Geometry) > 0 && string(rd.Geometry) != "null" {
		g, err := geojson.UnmarshalGeometry(rd.Geometry)
		if err != nil {
			return rec, domain.InvalidParameter("geometry", "record %s: invalid GeoJSON geometry: %v", rd.ID, err)
		}
		rec.Geometry = g.Geometry()
	}
	return rec, nil
}

// numbersToFloat converts json.Number values, including inside lists, to
// float64.
func numbersToFloat(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = numberValue(v)
	}
	return out
}

func numberValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = numberValue(item)
		}
		return out
	case map[string]any:
		return numbersToFloat(t)
	}
	return v
}

// requestKVP collects the parameters of a GET query or a form POST.
func requestKVP(r *http.Request) (kvp, error) {
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(nil, r.Body, maxDocumentSize)
		if err := r.ParseForm(); err != nil {
			return nil, domain.InvalidParameter("request", "invalid form body: %v", err)
		}
		return newKVP(r.Form), nil
	}
	return newKVP(r.URL.Query()), nil
}

// checkService rejects requests addressed to another service.
func checkService(p kvp, service string) error {
	if v := p.get("service"); v != "" && !strings.EqualFold(v, service) {
		return domain.InvalidParameter("service", "expected service %s, got %s", service, v)
	}
	return nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

func operationNotSupported(request string) *domain.ServiceError {
	return &domain.ServiceError{
		Code:    domain.CodeOperationNotSupported,
		Locator: request,
		Message: fmt.Sprintf("operation %s is not supported", request),
		Err:     domain.ErrUnsupported,
	}
}
