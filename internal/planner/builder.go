package planner

import (
	"fmt"

	language "github.com/graphgate/graphgate/internal/language"
	schema "github.com/graphgate/graphgate/internal/schema"
	validation "github.com/graphgate/graphgate/internal/validation"
)

// PlanBuilder converts one validated operation into an executable plan.
type PlanBuilder struct {
	schema        *schema.Schema
	doc           *language.QueryDocument
	operationName string
	variables     map[string]any
}

func NewPlanBuilder(s *schema.Schema, doc *language.QueryDocument) *PlanBuilder {
	return &PlanBuilder{schema: s, doc: doc}
}

func (b *PlanBuilder) WithOperationName(name string) *PlanBuilder {
	b.operationName = name
	return b
}

func (b *PlanBuilder) WithVariables(variables map[string]any) *PlanBuilder {
	b.variables = variables
	return b
}

// Plan validates the document and builds the plan. A non-nil Response means
// planning did not happen: it carries the validation or planning errors and
// is returned to the client as-is.
func (b *PlanBuilder) Plan() (RootNode, *Response) {
	if errs := validation.CheckRules(b.schema, b.doc, b.variables); len(errs) > 0 {
		return nil, ErrorResponse(errs)
	}

	op := getOperation(b.doc, b.operationName)
	if op == nil {
		return nil, &Response{Errors: []*ServerError{NewServerError("operation not found")}}
	}

	rootType := b.schema.RootType(op.Operation)
	if rootType == nil {
		return nil, &Response{Errors: []*ServerError{NewServerError("unsupported operation type")}}
	}

	ctx := &planContext{
		schema:    b.schema,
		fragments: b.doc.Fragments,
		variables: b.variables,
		keyID:     1,
	}

	var root RootNode
	switch op.Operation {
	case language.Mutation:
		root = ctx.buildRootSelectionSet(&mutationRootGroup{}, op.Operation,
			op.VariableDefinitions, rootType, op.SelectionSet).(RootNode)
	case language.Subscription:
		root = ctx.buildSubscribe(op.VariableDefinitions, rootType, op.SelectionSet)
	default:
		root = ctx.buildRootSelectionSet(newQueryRootGroup(), op.Operation,
			op.VariableDefinitions, rootType, op.SelectionSet).(RootNode)
	}

	if len(ctx.errors) > 0 {
		return nil, &Response{Errors: ctx.errors}
	}
	return root, nil
}

type planContext struct {
	schema    *schema.Schema
	fragments language.FragmentDefinitionList
	variables map[string]any
	keyID     int
	errors    []*ServerError
}

func (c *planContext) planErrorf(format string, args ...any) {
	err := NewServerError(fmt.Sprintf(format, args...))
	err.Extensions = map[string]any{"code": "PLAN_ERROR"}
	c.errors = append(c.errors, err)
}

func (c *planContext) takeKeyPrefix() int {
	id := c.keyID
	c.keyID++
	return id
}

func (c *planContext) buildRootSelectionSet(
	group rootGroup,
	operationType language.Operation,
	variableDefinitions []*language.VariableDefinition,
	parentType *schema.Type,
	selectionSet language.SelectionSet,
) Node {
	entityGroup := newFetchEntityGroup()
	var introspection IntrospectionSelectionSet

	c.buildRootSelections(group, entityGroup, &introspection, parentType, selectionSet)

	var nodes []Node
	if len(introspection) > 0 {
		nodes = append(nodes, &IntrospectionNode{SelectionSet: introspection})
	}

	var fetchNodes []Node
	for _, entry := range group.entries() {
		variables, varDefs := c.referencedVariables(*entry.selectionSet, variableDefinitions)
		query := fetchQuery{
			operationType:       operationType,
			variableDefinitions: varDefs,
			selectionSet:        *entry.selectionSet,
		}
		fetchNodes = append(fetchNodes, &FetchNode{
			Service:   entry.service,
			Variables: variables,
			Query:     query.String(),
		})
	}
	if len(fetchNodes) > 0 {
		if operationType == language.Query {
			nodes = append(nodes, flattenNode(&ParallelNode{Nodes: fetchNodes}))
		} else {
			nodes = append(nodes, flattenNode(&SequenceNode{Nodes: fetchNodes}))
		}
	}

	nodes = append(nodes, c.buildEntityRounds(entityGroup, variableDefinitions)...)

	return flattenNode(&SequenceNode{Nodes: nodes})
}

// buildEntityRounds drains the entity group, emitting one Parallel of Flatten
// nodes per dependency round.
func (c *planContext) buildEntityRounds(
	entityGroup *fetchEntityGroup,
	variableDefinitions []*language.VariableDefinition,
) []Node {
	var nodes []Node
	for !entityGroup.isEmpty() {
		var flattenNodes []Node
		nextGroup := newFetchEntityGroup()

		entityGroup.each(func(key fetchEntityKey, entity *fetchEntity) {
			var set selectionRefSet
			path := entity.path.Clone()

			for _, field := range entity.fields {
				c.buildField(&path, &set, nextGroup, key.service, entity.parentType, field, nil)
			}

			variables, varDefs := c.referencedVariables(set, variableDefinitions)
			query := fetchQuery{
				entityType:          entity.parentType.Name,
				variableDefinitions: varDefs,
				selectionSet:        set,
			}
			flattenNodes = append(flattenNodes, &FlattenNode{
				Path:      entity.path,
				Prefix:    entity.prefix,
				Service:   key.service,
				Variables: variables,
				Query:     query.String(),
			})
		})

		nodes = append(nodes, flattenNode(&ParallelNode{Nodes: flattenNodes}))
		entityGroup = nextGroup
	}
	return nodes
}

func (c *planContext) buildRootSelections(
	group rootGroup,
	entityGroup *fetchEntityGroup,
	introspection *IntrospectionSelectionSet,
	parentType *schema.Type,
	selectionSet language.SelectionSet,
) {
	for _, sel := range selectionSet {
		switch sel := sel.(type) {
		case *language.Field:
			if sel.Name == "__typename" || isIntrospectionField(sel.Name) {
				c.buildIntrospectionField(introspection, sel)
				continue
			}
			fieldDef := parentType.FieldByName(sel.Name)
			if fieldDef == nil {
				continue
			}
			service := c.schema.FieldService(parentType, fieldDef)
			if service == "" {
				c.planErrorf("no service can resolve %s.%s", parentType.Name, sel.Name)
				continue
			}
			var path ResponsePath
			c.buildField(&path, group.selectionSet(service), entityGroup, service, parentType, sel, nil)
		case *language.FragmentSpread:
			if frag := c.fragments.ForName(sel.Name); frag != nil {
				c.buildRootSelections(group, entityGroup, introspection, parentType, frag.SelectionSet)
			}
		case *language.InlineFragment:
			c.buildRootSelections(group, entityGroup, introspection, parentType, sel.SelectionSet)
		}
	}
}

func (c *planContext) buildSubscribe(
	variableDefinitions []*language.VariableDefinition,
	parentType *schema.Type,
	selectionSet language.SelectionSet,
) *SubscribeNode {
	group := newQueryRootGroup()
	entityGroup := newFetchEntityGroup()

	for _, sel := range selectionSet {
		field, ok := sel.(*language.Field)
		if !ok {
			continue
		}
		fieldDef := parentType.FieldByName(field.Name)
		if fieldDef == nil {
			continue
		}
		service := c.schema.FieldService(parentType, fieldDef)
		if service == "" {
			c.planErrorf("no service can resolve %s.%s", parentType.Name, field.Name)
			continue
		}
		var path ResponsePath
		c.buildField(&path, group.selectionSet(service), entityGroup, service, parentType, field, nil)
	}

	var fetchNodes []*FetchNode
	for _, entry := range group.entries() {
		variables, varDefs := c.referencedVariables(*entry.selectionSet, variableDefinitions)
		query := fetchQuery{
			operationType:       language.Subscription,
			variableDefinitions: varDefs,
			selectionSet:        *entry.selectionSet,
		}
		fetchNodes = append(fetchNodes, &FetchNode{
			Service:   entry.service,
			Variables: variables,
			Query:     query.String(),
		})
	}

	queryNodes := c.buildEntityRounds(entityGroup, variableDefinitions)

	node := &SubscribeNode{SubscribeNodes: fetchNodes}
	if len(queryNodes) > 0 {
		node.FlattenNode = flattenNode(&SequenceNode{Nodes: queryNodes})
	}
	return node
}

func (c *planContext) buildField(
	path *ResponsePath,
	set *selectionRefSet,
	entityGroup *fetchEntityGroup,
	currentService string,
	parentType *schema.Type,
	field *language.Field,
	provides schema.KeyFields,
) {
	if field.Name == "__typename" {
		*set = append(*set, introspectionTypename{})
		return
	}

	fieldDef := parentType.FieldByName(field.Name)
	if fieldDef == nil {
		return
	}
	fieldType := c.schema.Types[fieldDef.Type.NamedTypeOf()]
	if fieldType == nil {
		return
	}

	service := c.schema.FieldService(parentType, fieldDef)
	if service == "" {
		service = currentService
	}

	if service != currentService && !c.fieldInKeys(field, provides) {
		keys := parentType.KeysFor(service)
		if keys == nil {
			c.planErrorf("no @key joins %s to service %q for field %q",
				parentType.Name, service, field.Name)
			return
		}
		// Key fields are part of the entity's identity and resolvable in any
		// service defining it; everything else needs an entity re-fetch.
		if !c.fieldInKeys(field, keys) {
			c.addFetchEntity(path, set, entityGroup, parentType, field, fieldDef, service, keys)
			return
		}
	}

	*path = append(*path, PathSegment{
		Name:   language.ResponseKey(field),
		IsList: fieldDef.Type.IsList(),
	})
	var sub selectionRefSet

	childProvides := fieldDef.Provides
	if len(childProvides) == 0 {
		childProvides, _ = provides.Get(field.Name)
	}

	if fieldType.IsAbstract() {
		c.buildAbstractSelectionSet(path, &sub, entityGroup, currentService, fieldType, field.SelectionSet)
	} else {
		c.buildSelectionSet(path, &sub, entityGroup, currentService, fieldType, field.SelectionSet, childProvides)
	}

	*path = (*path)[:len(*path)-1]
	*set = append(*set, &fieldRef{field: field, selectionSet: sub})
}

func (c *planContext) addFetchEntity(
	path *ResponsePath,
	set *selectionRefSet,
	entityGroup *fetchEntityGroup,
	parentType *schema.Type,
	field *language.Field,
	fieldDef *schema.Field,
	service string,
	keys schema.KeyFields,
) {
	key := fetchEntityKey{service: service, path: path.String(), typ: parentType.Name}

	if entity := entityGroup.get(key); entity != nil {
		entity.fields = append(entity.fields, field)
		return
	}

	prefix := c.takeKeyPrefix()
	*set = append(*set, &requiredRef{
		prefix:   prefix,
		fields:   keys,
		requires: fieldDef.Requires,
	})
	entityGroup.insert(key, &fetchEntity{
		parentType: parentType,
		prefix:     prefix,
		path:       path.Clone(),
		fields:     []*language.Field{field},
	})
}

func (c *planContext) buildSelectionSet(
	path *ResponsePath,
	set *selectionRefSet,
	entityGroup *fetchEntityGroup,
	currentService string,
	parentType *schema.Type,
	selectionSet language.SelectionSet,
	provides schema.KeyFields,
) {
	for _, sel := range selectionSet {
		switch sel := sel.(type) {
		case *language.Field:
			c.buildField(path, set, entityGroup, currentService, parentType, sel, provides)
		case *language.FragmentSpread:
			if frag := c.fragments.ForName(sel.Name); frag != nil {
				c.buildSelectionSet(path, set, entityGroup, currentService, parentType, frag.SelectionSet, provides)
			}
		case *language.InlineFragment:
			c.buildSelectionSet(path, set, entityGroup, currentService, parentType, sel.SelectionSet, provides)
		}
	}
}

// buildAbstractSelectionSet plans a selection on an interface or union field:
// one inline-fragment branch per possible concrete type, each planned against
// that type's owner.
func (c *planContext) buildAbstractSelectionSet(
	path *ResponsePath,
	set *selectionRefSet,
	entityGroup *fetchEntityGroup,
	currentService string,
	abstractType *schema.Type,
	selectionSet language.SelectionSet,
) {
	type branch struct {
		typeName string
		set      selectionRefSet
	}
	var branches []branch
	branchSet := func(typeName string) *selectionRefSet {
		for i := range branches {
			if branches[i].typeName == typeName {
				return &branches[i].set
			}
		}
		branches = append(branches, branch{typeName: typeName})
		return &branches[len(branches)-1].set
	}

	var buildFields func(selectionSet language.SelectionSet, possibleType *schema.Type)
	buildFields = func(selectionSet language.SelectionSet, possibleType *schema.Type) {
		for _, sel := range selectionSet {
			switch sel := sel.(type) {
			case *language.Field:
				c.buildField(path, branchSet(possibleType.Name), entityGroup,
					currentService, possibleType, sel, nil)
			case *language.FragmentSpread:
				frag := c.fragments.ForName(sel.Name)
				if frag == nil {
					continue
				}
				if frag.TypeCondition == possibleType.Name {
					buildFields(frag.SelectionSet, possibleType)
					continue
				}
				if cond := c.schema.Types[frag.TypeCondition]; cond != nil && cond.IsAbstract() {
					buildFields(frag.SelectionSet, possibleType)
				}
			case *language.InlineFragment:
				switch {
				case sel.TypeCondition == "", sel.TypeCondition == possibleType.Name:
					buildFields(sel.SelectionSet, possibleType)
				default:
					if cond := c.schema.Types[sel.TypeCondition]; cond != nil && cond.IsAbstract() {
						buildFields(sel.SelectionSet, possibleType)
					}
				}
			}
		}
	}

	for _, possibleName := range abstractType.PossibleTypes {
		possibleType := c.schema.Types[possibleName]
		if possibleType == nil {
			continue
		}
		(*path)[len(*path)-1].PossibleType = possibleType.Name
		buildFields(selectionSet, possibleType)
		(*path)[len(*path)-1].PossibleType = ""
	}

	for _, br := range branches {
		if len(br.set) == 0 {
			continue
		}
		*set = append(*set, &inlineFragmentRef{
			typeCondition: br.typeName,
			selectionSet:  br.set,
		})
	}
}

// fieldInKeys reports whether field (and its whole sub-selection) is covered
// by the given key field set.
func (c *planContext) fieldInKeys(field *language.Field, keys schema.KeyFields) bool {
	var selectionSetInKeys func(selectionSet language.SelectionSet, keys schema.KeyFields) bool
	selectionSetInKeys = func(selectionSet language.SelectionSet, keys schema.KeyFields) bool {
		for _, sel := range selectionSet {
			switch sel := sel.(type) {
			case *language.Field:
				if !c.fieldInKeys(sel, keys) {
					return false
				}
			case *language.FragmentSpread:
				frag := c.fragments.ForName(sel.Name)
				if frag == nil || !selectionSetInKeys(frag.SelectionSet, keys) {
					return false
				}
			case *language.InlineFragment:
				if !selectionSetInKeys(sel.SelectionSet, keys) {
					return false
				}
			}
		}
		return true
	}

	children, ok := keys.Get(field.Name)
	if !ok {
		return false
	}
	return selectionSetInKeys(field.SelectionSet, children)
}

func getOperation(doc *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0]
		}
		return nil
	}
	return doc.Operations.ForName(operationName)
}

func isIntrospectionField(name string) bool {
	return name == "__type" || name == "__schema"
}
