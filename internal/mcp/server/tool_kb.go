// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/servicenow-mcp/internal/servicenow"
)

const (
	kbBaseTable     = servicenow.TableAPI + "/kb_knowledge_base"
	kbCategoryTable = servicenow.TableAPI + "/kb_category"
	kbArticleTable  = servicenow.TableAPI + "/kb_knowledge"
)

func (s *Server) registerKnowledgeTools() {
	s.addTool(mcp.Tool{
		Name:        "create_knowledge_base",
		Description: "Create a new knowledge base.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title":       map[string]interface{}{"type": "string", "description": "The title of the new knowledge base"},
				"description": map[string]interface{}{"type": "string", "description": "A short description of its purpose"},
			},
			Required: []string{"title"},
		},
	}, true, s.handleCreateKnowledgeBase)

	s.addTool(mcp.Tool{
		Name:        "list_knowledge_bases",
		Description: "List knowledge bases with an optional title filter.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title_filter": map[string]interface{}{"type": "string", "description": "Filter knowledge bases by title"},
				"limit":        map[string]interface{}{"type": "integer", "description": "Maximum number of knowledge bases", "default": 20},
			},
		},
	}, false, s.handleListKnowledgeBases)

	s.addTool(mcp.Tool{
		Name:        "create_kb_category",
		Description: "Create a category inside a knowledge base.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"knowledge_base_sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the parent knowledge base"},
				"name":                  map[string]interface{}{"type": "string", "description": "The name of the new category"},
			},
			Required: []string{"knowledge_base_sys_id", "name"},
		},
	}, true, s.handleCreateKBCategory)

	s.addTool(mcp.Tool{
		Name:        "create_kb_article",
		Description: "Create a knowledge article, optionally publishing it immediately.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"knowledge_base_sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the knowledge base"},
				"title":                 map[string]interface{}{"type": "string", "description": "Title of the article"},
				"content":               map[string]interface{}{"type": "string", "description": "Article body (HTML or plain text)"},
				"category_sys_id":       map[string]interface{}{"type": "string", "description": "Optional sys_id of a category within the knowledge base"},
				"published": map[string]interface{}{
					"type":        "boolean",
					"description": "Publish immediately instead of leaving as draft",
					"default":     false,
				},
			},
			Required: []string{"knowledge_base_sys_id", "title", "content"},
		},
	}, true, s.handleCreateKBArticle)

	s.addTool(mcp.Tool{
		Name:        "update_kb_article",
		Description: "Update the title, body, or category of an existing knowledge article.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id":          map[string]interface{}{"type": "string", "description": "The sys_id of the article to update"},
				"title":           map[string]interface{}{"type": "string", "description": "New title"},
				"content":         map[string]interface{}{"type": "string", "description": "Updated article body"},
				"category_sys_id": map[string]interface{}{"type": "string", "description": "Re-categorize the article"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handleUpdateKBArticle)

	s.addTool(mcp.Tool{
		Name:        "publish_kb_article",
		Description: "Publish a knowledge article by setting its workflow state to published.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the article to publish"},
			},
			Required: []string{"sys_id"},
		},
	}, true, s.handlePublishKBArticle)

	s.addTool(mcp.Tool{
		Name:        "list_kb_articles",
		Description: "List knowledge articles with optional knowledge base, category, and state filters.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"knowledge_base_sys_id": map[string]interface{}{"type": "string", "description": "Filter articles by knowledge base"},
				"category_sys_id":       map[string]interface{}{"type": "string", "description": "Filter articles by category"},
				"published_only":        map[string]interface{}{"type": "boolean", "description": "Return only published articles", "default": false},
				"limit":                 map[string]interface{}{"type": "integer", "description": "Maximum number of articles", "default": 20},
			},
		},
	}, false, s.handleListKBArticles)

	s.addTool(mcp.Tool{
		Name:        "get_kb_article",
		Description: "Retrieve a single knowledge article by sys_id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sys_id": map[string]interface{}{"type": "string", "description": "The sys_id of the article to retrieve"},
			},
			Required: []string{"sys_id"},
		},
	}, false, s.handleGetKBArticle)
}

func (s *Server) handleCreateKnowledgeBase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return errorResponse("Missing or invalid 'title' argument"), nil
	}
	body := map[string]any{"title": title}
	if description := request.GetString("description", ""); description != "" {
		body["description"] = description
	}
	return snowJSON(ctx, "POST", kbBaseTable, body, nil)
}

func (s *Server) handleListKnowledgeBases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := url.Values{}
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 20)))
	if filter := request.GetString("title_filter", ""); filter != "" {
		q.Set("sysparm_query", "titleLIKE"+filter)
	}
	return snowJSON(ctx, "GET", kbBaseTable, nil, q)
}

func (s *Server) handleCreateKBCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kbSysID, err := request.RequireString("knowledge_base_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'knowledge_base_sys_id' argument"), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return errorResponse("Missing or invalid 'name' argument"), nil
	}
	body := map[string]any{
		"label":        name,
		"value":        strings.ReplaceAll(strings.ToLower(name), " ", "_"),
		"parent_id":    kbSysID,
		"parent_table": "kb_knowledge_base",
	}
	return snowJSON(ctx, "POST", kbCategoryTable, body, nil)
}

func (s *Server) handleCreateKBArticle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kbSysID, err := request.RequireString("knowledge_base_sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'knowledge_base_sys_id' argument"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return errorResponse("Missing or invalid 'title' argument"), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return errorResponse("Missing or invalid 'content' argument"), nil
	}

	state := "draft"
	if request.GetBool("published", false) {
		state = "published"
	}
	body := map[string]any{
		"kb_knowledge_base": kbSysID,
		"short_description": title,
		"article_body":      content,
		"workflow_state":    state,
	}
	if category := request.GetString("category_sys_id", ""); category != "" {
		body["kb_category"] = category
	}
	return snowJSON(ctx, "POST", kbArticleTable, body, nil)
}

func (s *Server) handleUpdateKBArticle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}

	body := map[string]any{}
	if title := request.GetString("title", ""); title != "" {
		body["short_description"] = title
	}
	if content := request.GetString("content", ""); content != "" {
		body["article_body"] = content
	}
	if category := request.GetString("category_sys_id", ""); category != "" {
		body["kb_category"] = category
	}
	if len(body) == 0 {
		return toolError(&servicenow.Error{
			Kind:    servicenow.KindValidation,
			Message: "No fields to update; provide at least one updatable field",
		}), nil
	}
	return snowJSON(ctx, "PATCH", kbArticleTable+"/"+sysID, body, nil)
}

func (s *Server) handlePublishKBArticle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	body := map[string]any{"workflow_state": "published"}
	return snowJSON(ctx, "PATCH", kbArticleTable+"/"+sysID, body, nil)
}

func (s *Server) handleListKBArticles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var queryParts []string
	if kbSysID := request.GetString("knowledge_base_sys_id", ""); kbSysID != "" {
		queryParts = append(queryParts, "kb_knowledge_base="+kbSysID)
	}
	if category := request.GetString("category_sys_id", ""); category != "" {
		queryParts = append(queryParts, "category="+category)
	}
	if request.GetBool("published_only", false) {
		queryParts = append(queryParts, "workflow_state=published")
	}

	q := url.Values{}
	q.Set("sysparm_limit", fmt.Sprintf("%d", request.GetInt("limit", 20)))
	if len(queryParts) > 0 {
		q.Set("sysparm_query", strings.Join(queryParts, "^"))
	}
	return snowJSON(ctx, "GET", kbArticleTable, nil, q)
}

func (s *Server) handleGetKBArticle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sysID, err := request.RequireString("sys_id")
	if err != nil {
		return errorResponse("Missing or invalid 'sys_id' argument"), nil
	}
	return snowJSON(ctx, "GET", kbArticleTable+"/"+sysID, nil, nil)
}
